package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/push"
)

// memStore is an in-memory reminder table.
type memStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*db.Reminder
	insertErr error
	loadErr   error
	deleted   []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*db.Reminder)}
}

func (m *memStore) InsertReminders(ctx context.Context, reminders []*db.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, r := range reminders {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.rows[r.ID] = r
	}
	return nil
}

func (m *memStore) CancelReminders(ctx context.Context, identity string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if r.Identity == db.NormalizeIdentity(identity) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DueReminders(ctx context.Context, now time.Time) ([]*db.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var due []*db.Reminder
	for _, r := range m.rows {
		if !r.SendAt.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

func (m *memStore) DeleteReminder(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.rows, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memStore) add(identity string, t Type, sendAt time.Time) uuid.UUID {
	r := &db.Reminder{ID: uuid.New(), Identity: identity, Type: string(t), SendAt: sendAt}
	m.rows[r.ID] = r
	return r.ID
}

func (m *memStore) has(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

// fakeTokens maps identity to tokens; identities in failing return an error.
type fakeTokens struct {
	tokens  map[string][]*db.DeviceToken
	failing map[string]bool
}

func (f *fakeTokens) LookupTokens(ctx context.Context, identity string) ([]*db.DeviceToken, error) {
	if f.failing[identity] {
		return nil, errors.New("connection reset by peer")
	}
	return f.tokens[identity], nil
}

// fakeRouter succeeds for every token not in fail.
type fakeRouter struct {
	fail     map[string]bool
	calls    []push.Target
	payloads []push.Payload
}

func (f *fakeRouter) Deliver(ctx context.Context, target push.Target, p push.Payload) push.Result {
	f.calls = append(f.calls, target)
	f.payloads = append(f.payloads, p)
	if f.fail[target.Token] {
		return push.Result{Detail: "BadDeviceToken"}
	}
	return push.Result{Success: true}
}
