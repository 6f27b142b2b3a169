package authcheck

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/authcheck/pkg/orgs"
	"github.com/platinummonkey/authcheck/pkg/sso"
	"github.com/platinummonkey/authcheck/pkg/tasks"
)

type fixture struct {
	clock    *clock
	storage  *sso.Storage
	members  *orgs.PostgresService
	provider *sso.ProviderConfig
}

func newFixture(t *testing.T) *fixture {
	db := setupTestDB(t)
	c := newClock(fixedNow)

	f := &fixture{
		clock:   c,
		storage: sso.NewStorage(db).WithClock(c.Now),
		members: orgs.NewPostgresService(db).WithClock(c.Now),
		provider: &sso.ProviderConfig{
			OrganizationID: 1,
			Provider:       "dummy",
		},
	}
	require.NoError(t, f.storage.CreateProvider(context.Background(), f.provider))
	return f
}

func (f *fixture) addMember(t *testing.T, userID int64, flags orgs.MemberFlags) *orgs.OrgMember {
	member := &orgs.OrgMember{OrganizationID: f.provider.OrganizationID, UserID: userID, Flags: flags}
	require.NoError(t, f.members.AddMember(context.Background(), member))
	return member
}

func (f *fixture) addIdentity(t *testing.T, userID int64, lastVerified time.Time) *sso.AuthIdentity {
	identity := &sso.AuthIdentity{
		UserID:         userID,
		AuthProviderID: f.provider.ID,
		Ident:          "ext-" + strconv.FormatInt(userID, 10),
		LastVerified:   lastVerified,
	}
	require.NoError(t, f.storage.CreateIdentity(context.Background(), identity))
	return identity
}

func (f *fixture) flags(t *testing.T, userID int64) orgs.MemberFlags {
	member, err := f.members.GetMember(context.Background(), f.provider.OrganizationID, userID)
	require.NoError(t, err)
	return member.Flags
}

func (f *fixture) lastVerified(t *testing.T, id int64) time.Time {
	identity, err := f.storage.GetIdentity(context.Background(), id)
	require.NoError(t, err)
	return identity.LastVerified
}

func (f *fixture) reconciler(t *testing.T, validator sso.ValidatorFunc) *Reconciler {
	return NewReconciler(f.storage, f.members, validatorRegistry(t, validator), WithClock(f.clock.Now))
}

func TestScenario_StaleIdentityIsVerified(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addMember(t, 10, orgs.MemberFlags{})
	identity := f.addIdentity(t, 10, fixedNow.Add(-25*time.Hour))

	queue := newRecordingQueue(f.clock.Now)
	sweeper := NewSweeper(f.storage, queue, 3600*time.Second, WithClock(f.clock.Now))

	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{identity.ID}, result.Claimed)

	// Claimed before any task runs
	assert.True(t, f.lastVerified(t, identity.ID).Equal(fixedNow))

	enqueued := queue.Tasks()
	require.Len(t, enqueued, 1)
	assert.Equal(t, TaskCheckAuthIdentity, enqueued[0].Name)
	assert.Equal(t, 3600*time.Second, enqueued[0].ExpiresAt.Sub(enqueued[0].EnqueuedAt))

	runAt := fixedNow.Add(90 * time.Second)
	f.clock.Set(runAt)
	require.NoError(t, f.reconciler(t, alwaysValid).Handle(ctx, enqueued[0]))

	assert.Equal(t, orgs.MemberFlags{SSOLinked: true, SSOInvalid: false}, f.flags(t, 10))
	assert.True(t, f.lastVerified(t, identity.ID).Equal(runAt))
}

func TestScenario_FreshIdentityIsUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addMember(t, 10, orgs.VerificationFlags(true))
	identity := f.addIdentity(t, 10, fixedNow.Add(-30*time.Minute))

	queue := newRecordingQueue(f.clock.Now)
	result, err := NewSweeper(f.storage, queue, time.Hour, WithClock(f.clock.Now)).Sweep(ctx)
	require.NoError(t, err)

	assert.Empty(t, result.Claimed)
	assert.Empty(t, queue.Tasks())
	assert.True(t, f.lastVerified(t, identity.ID).Equal(fixedNow.Add(-30*time.Minute)))
}

func TestScenario_ReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name      string
		validator sso.ValidatorFunc
		want      orgs.MemberFlags
	}{
		{name: "valid", validator: alwaysValid, want: orgs.MemberFlags{SSOLinked: true}},
		{name: "invalid", validator: alwaysInvalid, want: orgs.MemberFlags{SSOInvalid: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.addMember(t, 10, orgs.MemberFlags{})
			identity := f.addIdentity(t, 10, fixedNow.Add(-2*time.Hour))
			reconciler := f.reconciler(t, tc.validator)

			_, err := reconciler.Reconcile(ctx, identity.ID)
			require.NoError(t, err)
			once := f.flags(t, 10)

			_, err = reconciler.Reconcile(ctx, identity.ID)
			require.NoError(t, err)

			assert.Equal(t, tc.want, once)
			assert.Equal(t, once, f.flags(t, 10))
		})
	}
}

func TestScenario_FailClosedRegardlessOfPriorState(t *testing.T) {
	ctx := context.Background()

	for _, prior := range []orgs.MemberFlags{
		{},
		{SSOLinked: true},
		{SSOInvalid: true},
		{SSOLinked: true, SSOInvalid: true},
	} {
		t.Run(prior.String(), func(t *testing.T) {
			f := newFixture(t)
			f.addMember(t, 10, prior)
			identity := f.addIdentity(t, 10, fixedNow.Add(-2*time.Hour))

			outcome, err := f.reconciler(t, alwaysFails).Reconcile(ctx, identity.ID)
			require.NoError(t, err)
			assert.Equal(t, OutcomeInvalid, outcome)
			assert.Equal(t, orgs.MemberFlags{SSOLinked: false, SSOInvalid: true}, f.flags(t, 10))
		})
	}
}

func TestScenario_OrphanedIdentityIsDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A member of another organization only
	other := &orgs.OrgMember{OrganizationID: 2, UserID: 10, Flags: orgs.VerificationFlags(true)}
	require.NoError(t, f.members.AddMember(ctx, other))
	identity := f.addIdentity(t, 10, fixedNow.Add(-2*time.Hour))

	outcome, err := f.reconciler(t, alwaysValid).Reconcile(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphaned, outcome)

	_, err = f.storage.GetIdentity(ctx, identity.ID)
	assert.ErrorIs(t, err, sso.ErrIdentityNotFound)

	member, err := f.members.GetMember(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, orgs.VerificationFlags(true), member.Flags, "other memberships are not touched")
}

func TestScenario_MemoryQueuePipeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []int64
	for userID := int64(10); userID < 15; userID++ {
		f.addMember(t, userID, orgs.MemberFlags{})
		ids = append(ids, f.addIdentity(t, userID, fixedNow.Add(-3*time.Hour)).ID)
	}

	mux := tasks.NewMux()
	f.reconciler(t, alwaysValid).Register(mux)
	queue := tasks.NewMemoryQueue(ctx, mux, 3, 10*time.Second, tasks.WithClock(f.clock.Now))

	result, err := NewSweeper(f.storage, queue, time.Hour, WithClock(f.clock.Now)).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, result.Claimed)
	assert.Equal(t, len(ids), result.Enqueued)

	require.NoError(t, queue.Close(10*time.Second))

	for userID := int64(10); userID < 15; userID++ {
		assert.Equal(t, orgs.VerificationFlags(true), f.flags(t, userID))
	}
}

func TestScenario_RotatingProviderStaysLinked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addMember(t, 10, orgs.MemberFlags{})
	identity := &sso.AuthIdentity{
		UserID:         10,
		AuthProviderID: f.provider.ID,
		Ident:          "ext-10",
		Data:           map[string]any{"refresh_token": "rt-0"},
		LastVerified:   fixedNow.Add(-2 * time.Hour),
	}
	require.NoError(t, f.storage.CreateIdentity(ctx, identity))

	// Accepts only the latest token and issues a new one on every use
	current, issued := "rt-0", 0
	reconciler := f.reconciler(t, func(ctx context.Context, identity *sso.AuthIdentity) (bool, error) {
		if identity.RefreshToken() != current {
			return false, nil
		}
		issued++
		current = "rt-" + strconv.Itoa(issued)
		identity.SetRefreshToken(current)
		return true, nil
	})

	for run := 1; run <= 3; run++ {
		f.clock.Set(fixedNow.Add(time.Duration(run) * time.Hour))

		outcome, err := reconciler.Reconcile(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeValid, outcome, "run %d", run)
		assert.Equal(t, orgs.VerificationFlags(true), f.flags(t, 10))
	}

	stored, err := f.storage.GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "rt-3", stored.RefreshToken())
}
