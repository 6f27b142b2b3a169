package authcheck

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/authcheck/pkg/sso"
	"github.com/platinummonkey/authcheck/pkg/tasks"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source shared by the components under test
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(now time.Time) *clock {
	return &clock{now: now}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// recordingQueue keeps enqueued tasks instead of running them
type recordingQueue struct {
	mu     sync.Mutex
	now    func() time.Time
	tasks  []*tasks.Task
	failOn map[int64]error
}

func newRecordingQueue(now func() time.Time) *recordingQueue {
	return &recordingQueue{now: now, failOn: make(map[int64]error)}
}

func (q *recordingQueue) Enqueue(ctx context.Context, name string, payload any, expiresIn time.Duration) (*tasks.Task, error) {
	if p, ok := payload.(CheckAuthIdentityPayload); ok {
		if err := q.failOn[p.AuthIdentityID]; err != nil {
			return nil, err
		}
	}

	task, err := tasks.NewTask(name, payload, expiresIn, q.now())
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return task, nil
}

func (q *recordingQueue) Tasks() []*tasks.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*tasks.Task(nil), q.tasks...)
}

// identityIDs decodes the payloads of the recorded tasks
func (q *recordingQueue) identityIDs(t *testing.T) []int64 {
	var ids []int64
	for _, task := range q.Tasks() {
		var payload CheckAuthIdentityPayload
		require.NoError(t, task.Decode(&payload))
		ids = append(ids, payload.AuthIdentityID)
	}
	return ids
}

// validatorRegistry builds a registry whose "dummy" provider answers with fn
func validatorRegistry(t *testing.T, fn sso.ValidatorFunc) *sso.Registry {
	registry, err := sso.NewRegistry(8)
	require.NoError(t, err)
	registry.Register("dummy", func(ctx context.Context, config *sso.ProviderConfig) (sso.Validator, error) {
		return fn, nil
	})
	return registry
}

func alwaysValid(ctx context.Context, identity *sso.AuthIdentity) (bool, error) {
	return true, nil
}

func alwaysInvalid(ctx context.Context, identity *sso.AuthIdentity) (bool, error) {
	return false, nil
}

// rotatesTo validates and swaps the refresh token like a rotating provider
func rotatesTo(token string) sso.ValidatorFunc {
	return func(ctx context.Context, identity *sso.AuthIdentity) (bool, error) {
		identity.SetRefreshToken(token)
		return true, nil
	}
}

func alwaysFails(ctx context.Context, identity *sso.AuthIdentity) (bool, error) {
	return true, errors.New("provider unreachable")
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organization_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			flags INTEGER NOT NULL DEFAULT 0,
			invited_by INTEGER,
			joined_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(organization_id, user_id)
		);

		CREATE TABLE auth_providers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL UNIQUE,
			provider TEXT NOT NULL,
			provider_name TEXT,
			oauth2_config TEXT,
			oidc_config TEXT,
			flags INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE auth_identities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			auth_provider_id INTEGER NOT NULL,
			ident TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}',
			last_verified TIMESTAMP NOT NULL,
			last_synced TIMESTAMP NOT NULL,
			date_added TIMESTAMP NOT NULL,
			UNIQUE(auth_provider_id, ident),
			UNIQUE(auth_provider_id, user_id)
		);
	`)
	require.NoError(t, err)

	return db
}
