package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

const (
	// StorageKey is the durable storage key holding the selected organization ID.
	StorageKey = "selectedOrganizationId"

	// HeaderName carries the selected organization on admin API requests.
	HeaderName = "X-Selected-Org"
)

// ErrInvalidOrganizationID is returned by Set for anything that is not a canonical UUID v4.
var ErrInvalidOrganizationID = errors.New("organization ID must be a UUID v4")

// EventType distinguishes selection changes.
type EventType string

const (
	EventSelected EventType = "selected"
	EventCleared  EventType = "cleared"
)

// Reason explains why the selection changed.
type Reason string

const (
	// ReasonExplicit is a user action: picking an organization, or logout.
	ReasonExplicit Reason = "explicit"
	// ReasonInvalid means the stored value failed validation on read and was removed.
	ReasonInvalid Reason = "invalid"
	// ReasonAccessDenied means the API rejected the selection with a 403.
	ReasonAccessDenied Reason = "access_denied"
	// ReasonExternal means another process changed the stored value.
	ReasonExternal Reason = "external"
)

// Event is published to subscribers on every selection change.
type Event struct {
	Type           EventType `json:"type"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Reason         Reason    `json:"reason"`
}

// Selection is the persisted selected organization. Every read goes to storage and is
// validated, so a cleared or corrupted value can never be served from memory.
type Selection struct {
	kv      storage.KV
	logger  logrus.FieldLogger
	metrics *observability.Metrics

	mu        sync.Mutex
	listeners map[uint64]func(Event)
	nextID    uint64
}

// Option configures a Selection.
type Option func(*Selection)

// WithLogger sets the logger used for validation warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Selection) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics counts cleared selections.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Selection) { s.metrics = m }
}

// New creates a Selection over kv.
func New(kv storage.KV, opts ...Option) *Selection {
	s := &Selection{
		kv:        kv,
		logger:    logrus.StandardLogger(),
		listeners: make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsValidID reports whether id is a canonical, hyphenated UUID v4.
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}

// Get returns the selected organization ID, or "" when none is selected. An invalid stored
// value is deleted, logged and reported to subscribers as cleared with ReasonInvalid.
func (s *Selection) Get(ctx context.Context) (string, error) {
	id, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read selected organization: %w", err)
	}

	if !IsValidID(id) {
		s.logger.WithField("value", id).Warn("Invalid organization ID in storage, clearing")
		if err := s.kv.Delete(ctx, StorageKey); err != nil {
			return "", fmt.Errorf("failed to clear invalid organization: %w", err)
		}
		s.cleared(ReasonInvalid)
		return "", nil
	}
	return id, nil
}

// Set persists id as the selected organization.
func (s *Selection) Set(ctx context.Context, id string) error {
	if !IsValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidOrganizationID, id)
	}
	if err := s.kv.Set(ctx, StorageKey, id); err != nil {
		return fmt.Errorf("failed to store selected organization: %w", err)
	}
	s.publish(Event{Type: EventSelected, OrganizationID: id, Reason: ReasonExplicit})
	return nil
}

// Clear removes the selection and publishes a cleared event with reason.
func (s *Selection) Clear(ctx context.Context, reason Reason) error {
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("failed to clear selected organization: %w", err)
	}
	s.cleared(reason)
	return nil
}

// Subscribe registers fn for selection events and returns a function that removes it.
func (s *Selection) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Follow republishes changes another process makes to the stored selection. It blocks
// until ctx is done.
func (s *Selection) Follow(ctx context.Context, w storage.Watcher) error {
	return w.Watch(ctx, func(key string) {
		if key != StorageKey {
			return
		}
		id, err := s.kv.Get(ctx, StorageKey)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.cleared(ReasonExternal)
		case err != nil:
			s.logger.WithError(err).Warn("Failed to read externally changed organization")
		case IsValidID(id):
			s.publish(Event{Type: EventSelected, OrganizationID: id, Reason: ReasonExternal})
		default:
			// Get deletes the bad value and publishes the invalid clear
			_, _ = s.Get(ctx)
		}
	})
}

func (s *Selection) cleared(reason Reason) {
	s.metrics.RecordOrganizationCleared(string(reason))
	s.publish(Event{Type: EventCleared, Reason: reason})
}

func (s *Selection) publish(e Event) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
