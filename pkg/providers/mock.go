package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// DefaultMockUser is the identity every mock login produces.
var DefaultMockUser = session.User{
	ID:    "00000000-0000-0000-0000-000000000000",
	Email: "dev@example.com",
	Name:  "Dev User",
}

// Mock is the development provider. Login assigns DefaultMockUser and persists it so the
// session survives restarts.
type Mock struct {
	store     *session.Store
	kv        storage.KV
	selection *tenant.Selection
	logger    logrus.FieldLogger
	once      sync.Once
}

// NewMock creates the mock provider. It cannot fail.
func NewMock(deps Deps) *Mock {
	deps = deps.withDefaults()
	return &Mock{
		store:     session.NewStore(session.State{}),
		kv:        deps.KV,
		selection: deps.Selection,
		logger:    deps.Logger.WithField("provider", auth.ProviderMock),
	}
}

func (m *Mock) Type() auth.ProviderType { return auth.ProviderMock }
func (m *Mock) Store() *session.Store   { return m.store }

// Init restores the persisted user. A record that cannot be decoded is ignored.
func (m *Mock) Init(ctx context.Context) {
	m.once.Do(func() {
		var u session.User
		ok, err := loadJSON(ctx, m.kv, MockUserKey, &u)
		if err != nil {
			m.logger.WithError(err).Debug("Ignoring unreadable mock user")
			ok = false
		}
		if ok {
			m.store.SetUser(&u)
			return
		}
		m.store.SetUser(nil)
	})
}

// Login assigns and persists the default user.
func (m *Mock) Login(ctx context.Context, _ auth.LoginOptions) (auth.Effect, error) {
	u := DefaultMockUser
	if err := saveJSON(ctx, m.kv, MockUserKey, u); err != nil {
		return auth.Effect{}, fmt.Errorf("mock login: %w", err)
	}
	m.store.SetUser(&u)
	return auth.Effect{}, nil
}

// Logout clears the user, its persisted record and the selected organization.
func (m *Mock) Logout(ctx context.Context) (auth.Effect, error) {
	if m.selection != nil {
		if err := m.selection.Clear(ctx, tenant.ReasonExplicit); err != nil {
			m.logger.WithError(err).Warn("Failed to clear selected organization on logout")
		}
	}
	m.store.SetUser(nil)
	if err := m.kv.Delete(ctx, MockUserKey); err != nil {
		return auth.Effect{}, fmt.Errorf("mock logout: %w", err)
	}
	return auth.Effect{}, nil
}
