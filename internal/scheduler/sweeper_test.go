package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector-hub/internal/common/errors"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls []Credential
	errs  map[Credential]error
}

func (f *fakeRefresher) GetAccessToken(ctx context.Context, userID, provider string) (string, error) {
	credential := Credential{UserID: userID, Provider: provider}
	f.mu.Lock()
	f.calls = append(f.calls, credential)
	f.mu.Unlock()
	if err, ok := f.errs[credential]; ok {
		return "", err
	}
	return "token", nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSweeper_SweepRefreshesRegistered(t *testing.T) {
	refresher := &fakeRefresher{}
	sweeper := New(refresher, "@every 5m", nil)

	sweeper.Register("u1", "github")
	sweeper.Register("u2", "google")
	sweeper.Register("u1", "github") // duplicate registration collapses

	sweeper.Sweep()

	assert.Equal(t, 2, refresher.callCount())
	assert.ElementsMatch(t, []Credential{
		{UserID: "u1", Provider: "github"},
		{UserID: "u2", Provider: "google"},
	}, refresher.calls)
}

func TestSweeper_Deregister(t *testing.T) {
	refresher := &fakeRefresher{}
	sweeper := New(refresher, "@every 5m", nil)

	sweeper.Register("u1", "github")
	sweeper.Deregister("u1", "github")
	sweeper.Sweep()

	assert.Equal(t, 0, refresher.callCount())
}

func TestSweeper_FailuresDoNotStopSweep(t *testing.T) {
	refresher := &fakeRefresher{errs: map[Credential]error{
		{UserID: "u1", Provider: "github"}: errors.ReauthRequiredError("revoked", nil),
		{UserID: "u2", Provider: "reddit"}: errors.RefreshTransientError("flaky", nil),
	}}
	sweeper := New(refresher, "@every 5m", nil)

	sweeper.Register("u1", "github")
	sweeper.Register("u2", "reddit")
	sweeper.Register("u3", "google")

	sweeper.Sweep()
	assert.Equal(t, 3, refresher.callCount(), "failing credentials do not short-circuit the sweep")
}

func TestSweeper_StartRunsOnSchedule(t *testing.T) {
	refresher := &fakeRefresher{}
	sweeper := New(refresher, "@every 50ms", nil)
	sweeper.Register("u1", "github")

	require.NoError(t, sweeper.Start())
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		return refresher.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	sweeper := New(&fakeRefresher{}, "every now and then", nil)
	err := sweeper.Start()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
