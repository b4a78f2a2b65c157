package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/seclog"
	"github.com/vaultofvirtue/techescape/internal/session"
	"github.com/vaultofvirtue/techescape/internal/store"
)

type fixture struct {
	store   *store.Memory
	service *session.Service
	eb      *event.Bus
	user    *domain.User
	now     time.Time
}

func makeFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: store.NewMemory(),
		eb:    event.NewBus(),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	t.Cleanup(f.eb.Stop)

	f.service = session.NewService(session.Config{
		Store:    f.store,
		Logs:     seclog.NewService(seclog.Config{Store: f.store}),
		EventBus: f.eb,
		Now:      func() time.Time { return f.now },
	})

	u, err := f.store.RegisterUser(context.Background(), store.RegisterParams{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
		TeamName:     "red",
		CreateTeam:   true,
	})
	require.NoError(t, err)
	f.user = u

	return f
}

func (f *fixture) reload(t *testing.T) *domain.User {
	t.Helper()
	u, err := f.store.UserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	return u
}

func TestService_Start(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	st, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)
	require.True(t, st.Started)
	require.Equal(t, f.now.Add(session.Duration), st.Expiry)

	logs, err := f.store.RecentSecurityLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, domain.LogSessionStarted, logs[0].Type)

	// A second login during the window keeps the original clock.
	f.now = f.now.Add(10 * time.Minute)
	st2, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, st2.Started)
	require.Equal(t, st.Expiry, st2.Expiry)

	// After expiry the next login opens a fresh window.
	f.now = st.Expiry.Add(time.Second)
	st3, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)
	require.True(t, st3.Started)
	require.Equal(t, f.now.Add(session.Duration), st3.Expiry)
}

func TestService_Start_ClearsPreviousDisqualification(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)

	for range session.MaxTabSwitches {
		_, err := f.service.RecordSwitch(ctx, f.reload(t))
		require.NoError(t, err)
	}
	require.True(t, f.reload(t).Disqualified)

	f.now = f.now.Add(2 * session.Duration)
	st, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)
	require.True(t, st.Started)

	u := f.reload(t)
	require.False(t, u.Disqualified)
	require.Zero(t, u.TabSwitchCount)
}

func TestService_RecordSwitch(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)

	var disqualified []domain.EventSessionDisqualified
	var mu sync.Mutex
	f.eb.Subscribe(domain.EventNameSessionDisqualified, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		disqualified = append(disqualified, e.(domain.EventSessionDisqualified))
		mu.Unlock()
		return nil
	})

	res, err := f.service.RecordSwitch(ctx, f.reload(t))
	require.NoError(t, err)
	require.Equal(t, store.TabSwitchResult{Count: 1}, res)

	res, err = f.service.RecordSwitch(ctx, f.reload(t))
	require.NoError(t, err)
	require.Equal(t, store.TabSwitchResult{Count: 2}, res)

	res, err = f.service.RecordSwitch(ctx, f.reload(t))
	require.NoError(t, err)
	require.Equal(t, store.TabSwitchResult{Count: 3, Disqualified: true, Crossed: true}, res)

	// The user is disqualified and their window is terminated.
	u := f.reload(t)
	require.True(t, u.Disqualified)
	require.False(t, f.service.Active(u))

	// Further switches are no-ops and must not disqualify again.
	res, err = f.service.RecordSwitch(ctx, u)
	require.NoError(t, err)
	require.Equal(t, store.TabSwitchResult{Count: 3, Disqualified: true}, res)

	f.eb.Stop()
	require.Len(t, disqualified, 1, "disqualification event fires exactly once")
	require.Equal(t, 3, disqualified[0].TabSwitchCount)

	logs, err := f.store.RecentSecurityLogs(ctx, 10)
	require.NoError(t, err)
	var excessive int
	for _, l := range logs {
		if l.Type == domain.LogExcessiveTabSwitch {
			excessive++
		}
	}
	require.Equal(t, 1, excessive)
}

func TestService_RecordSwitch_Concurrent(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, f.user.ID)
	require.NoError(t, err)

	u := f.reload(t)

	const workers = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		crossed int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := f.service.RecordSwitch(ctx, u)
			require.NoError(t, err)

			if res.Crossed {
				mu.Lock()
				crossed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, crossed, "only one switch may observe the crossing")
	require.Equal(t, session.MaxTabSwitches, f.reload(t).TabSwitchCount)
}

func TestService_RecordSwitch_AdminExempt(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.PromoteToAdmin(ctx, f.user.Email))
	admin := f.reload(t)

	for range 10 {
		res, err := f.service.RecordSwitch(ctx, admin)
		require.NoError(t, err)
		require.False(t, res.Disqualified)
		require.Zero(t, res.Count)
	}
}

func TestActiveAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	tests := map[string]struct {
		user domain.User
		want bool
	}{
		"never started":     {user: domain.User{}, want: false},
		"active window":     {user: domain.User{SessionExpiry: &later}, want: true},
		"expired window":    {user: domain.User{SessionExpiry: &now}, want: false},
		"at the limit":      {user: domain.User{SessionExpiry: &later, TabSwitchCount: session.MaxTabSwitches}, want: false},
		"disqualified flag": {user: domain.User{SessionExpiry: &later, Disqualified: true}, want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, session.ActiveAt(&tt.user, now))
		})
	}
}
