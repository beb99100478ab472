package orgselect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/apiclient"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// ViewKind is what the overlay currently shows.
type ViewKind string

const (
	ViewLoading   ViewKind = "loading"
	ViewError     ViewKind = "error"
	ViewWelcome   ViewKind = "welcome"
	ViewSelecting ViewKind = "selecting"
	ViewPicker    ViewKind = "picker"
	ViewDone      ViewKind = "done"
	ViewLoggedOut ViewKind = "logged_out"
)

// pageSize is used when walking the organization list.
const pageSize = 100

// ErrUnknownOrganization is returned by Select for an ID that was not offered.
var ErrUnknownOrganization = errors.New("organization is not one of the user's organizations")

// View is the renderable overlay state.
type View struct {
	Kind          ViewKind                 `json:"view"`
	Organizations []apiclient.Organization `json:"organizations,omitempty"`
	Selected      string                   `json:"selected_organization_id,omitempty"`
	Message       string                   `json:"message,omitempty"`
	Error         string                   `json:"error,omitempty"`
	CanRetry      bool                     `json:"can_retry,omitempty"`
}

// Overlay drives organization selection after login. A user with no organizations gets
// onboarding, a user with one is selected automatically, and a user with several picks one.
type Overlay struct {
	lister    apiclient.OrganizationLister
	selection *tenant.Selection
	logout    func(context.Context) error
	logger    logrus.FieldLogger

	// autoSelected makes the single-organization selection happen once even when Load
	// runs concurrently.
	autoSelected atomic.Bool

	mu      sync.RWMutex
	view    View
	offered map[string]bool
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithLogout sets what Dismiss calls. Without it Dismiss only reports logged_out.
func WithLogout(fn func(context.Context) error) Option {
	return func(o *Overlay) { o.logout = fn }
}

// WithLogger sets the overlay logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Overlay) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an overlay that lists organizations through lister and stores the choice in
// selection.
func New(lister apiclient.OrganizationLister, selection *tenant.Selection, opts ...Option) *Overlay {
	o := &Overlay{
		lister:    lister,
		selection: selection,
		logger:    logrus.StandardLogger(),
		view:      View{Kind: ViewLoading, Message: "Loading organizations..."},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Needed reports whether the user still has to pick an organization.
func Needed(ctx context.Context, selection *tenant.Selection) (bool, error) {
	id, err := selection.Get(ctx)
	if err != nil {
		return false, err
	}
	return id == "", nil
}

// View returns the last computed view.
func (o *Overlay) View() View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view
}

// Load fetches the user's organizations and computes the view.
func (o *Overlay) Load(ctx context.Context) View {
	orgs, err := apiclient.ListAllOrganizations(ctx, o.lister, pageSize)
	if err != nil {
		o.logger.WithError(err).Warn("Failed to load organizations")
		return o.set(View{
			Kind:     ViewError,
			Message:  "Failed to load organizations",
			Error:    err.Error(),
			CanRetry: true,
		}, nil)
	}

	switch len(orgs) {
	case 0:
		return o.set(View{
			Kind:    ViewWelcome,
			Message: "Let's get you started by creating your first organization",
		}, orgs)
	case 1:
		only := orgs[0]
		if o.autoSelected.CompareAndSwap(false, true) {
			if err := o.selection.Set(ctx, only.ID); err != nil {
				o.autoSelected.Store(false)
				o.logger.WithError(err).Error("Failed to select the only organization")
				return o.set(View{
					Kind:     ViewError,
					Message:  "Failed to select organization",
					Error:    err.Error(),
					CanRetry: true,
				}, orgs)
			}
			o.logger.WithField("organization_id", only.ID).Info("Selected the user's only organization")
		}
		return o.set(View{
			Kind:          ViewSelecting,
			Organizations: orgs,
			Selected:      only.ID,
			Message:       fmt.Sprintf("Selecting %s...", only.Name),
		}, orgs)
	default:
		return o.set(View{
			Kind:          ViewPicker,
			Organizations: orgs,
			Message:       "Choose which organization you want to work with",
		}, orgs)
	}
}

// Retry reloads after a failed Load.
func (o *Overlay) Retry(ctx context.Context) View {
	return o.Load(ctx)
}

// Select persists id when it is one of the user's organizations. IDs offered by the last
// Load are accepted directly; anything else is checked against a fresh list, so a user
// can switch organizations without reopening the picker.
func (o *Overlay) Select(ctx context.Context, id string) (View, error) {
	o.mu.RLock()
	ok := o.offered[id]
	o.mu.RUnlock()
	if !ok {
		member, err := o.isMember(ctx, id)
		if err != nil {
			return o.View(), err
		}
		if !member {
			return o.View(), fmt.Errorf("%w: %q", ErrUnknownOrganization, id)
		}
	}

	if err := o.selection.Set(ctx, id); err != nil {
		return o.View(), err
	}
	o.mu.Lock()
	o.view = View{Kind: ViewDone, Organizations: o.view.Organizations, Selected: id}
	v := o.view
	o.mu.Unlock()
	return v, nil
}

// Dismiss is the user declining to pick an organization. It signs the user out.
func (o *Overlay) Dismiss(ctx context.Context) (View, error) {
	var err error
	if o.logout != nil {
		err = o.logout(ctx)
	}
	o.Reset()
	o.mu.Lock()
	o.view = View{Kind: ViewLoggedOut}
	o.mu.Unlock()
	return o.View(), err
}

// Reset forgets loaded organizations and re-arms the automatic selection for the next
// user.
func (o *Overlay) Reset() {
	o.autoSelected.Store(false)
	o.mu.Lock()
	o.view = View{Kind: ViewLoading, Message: "Loading organizations..."}
	o.offered = nil
	o.mu.Unlock()
}

func (o *Overlay) isMember(ctx context.Context, id string) (bool, error) {
	orgs, err := apiclient.ListAllOrganizations(ctx, o.lister, pageSize)
	if err != nil {
		return false, fmt.Errorf("failed to load organizations: %w", err)
	}
	for _, org := range orgs {
		if org.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (o *Overlay) set(v View, orgs []apiclient.Organization) View {
	offered := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		offered[org.ID] = true
	}
	o.mu.Lock()
	o.view = v
	o.offered = offered
	o.mu.Unlock()
	return v
}
