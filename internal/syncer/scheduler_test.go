package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/integrity"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store/memory"
)

func TestScheduleBackoff(t *testing.T) {
	s := schedule{base: 5 * time.Minute, max: 30 * time.Minute, limit: 5}

	wait, ok := s.next()
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, wait)

	failure := errors.New("boom")

	s.observe(failure)
	wait, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, wait)

	s.observe(failure)
	wait, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, wait)

	// Capped at max.
	s.observe(failure)
	wait, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, wait)

	s.observe(failure)
	wait, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, wait)

	// Fifth consecutive failure disables background sync.
	s.observe(failure)
	_, ok = s.next()
	assert.False(t, ok)

	// Success re-arms at the base interval.
	s.observe(nil)
	wait, ok = s.next()
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, wait)
}

func TestScheduleIgnoresRejectedDuplicates(t *testing.T) {
	s := schedule{base: time.Minute, max: 10 * time.Minute, limit: 2}

	s.observe(common.ErrSyncInProgress)
	s.observe(common.ErrSyncInProgress)

	wait, ok := s.next()
	require.True(t, ok)
	assert.Equal(t, time.Minute, wait, "a rejected duplicate request is not a failure")
}

func newSchedulerFixture(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	local := memory.New()
	remote := memory.New()
	checker := integrity.New(local, account, nil)
	svc := New(local, remote, store.NewGuard(), checker, account, &Config{
		BaseInterval: 50 * time.Millisecond,
		MaxInterval:  200 * time.Millisecond,
		FailureLimit: 3,
	}, nil, nil).WithRetryBase(time.Millisecond)
	return svc, remote
}

func TestRunPerformsBackgroundCycles(t *testing.T) {
	svc, _ := newSchedulerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return svc.LastResult() != nil
	}, 2*time.Second, 10*time.Millisecond, "a background cycle should have completed")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestTriggerNowForcesImmediateCycle(t *testing.T) {
	svc, _ := newSchedulerFixture(t)
	// Make the scheduled path unreachable so only the trigger can sync.
	svc.cfg.BaseInterval = time.Hour
	svc.mu.Lock()
	svc.sched.base = time.Hour
	svc.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.Nil(t, svc.LastResult())

	svc.TriggerNow()
	require.Eventually(t, func() bool {
		return svc.LastResult() != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetOnlineParksAndResumes(t *testing.T) {
	svc, remote := newSchedulerFixture(t)
	remote.SetReachable(false)

	svc.SetOnline(false)
	assert.Equal(t, StatePaused, svc.State())

	wait, ok := svc.nextWait()
	assert.False(t, ok, "offline means no scheduled attempt")
	assert.Zero(t, wait)

	remote.SetReachable(true)
	svc.SetOnline(true)
	assert.Equal(t, StateIdle, svc.State())

	_, ok = svc.nextWait()
	assert.True(t, ok)
}

func disableViaFailures(svc *Service, n int) {
	failure := errors.New("boom")
	svc.mu.Lock()
	for i := 0; i < n; i++ {
		svc.sched.observe(failure)
	}
	svc.mu.Unlock()
}

func TestFailedManualSyncKeepsBackgroundDisabled(t *testing.T) {
	svc, remote := newSchedulerFixture(t)
	remote.SetReachable(false)
	disableViaFailures(svc, 3)

	_, ok := svc.nextWait()
	require.False(t, ok)

	// The forced cycle runs despite the disable, but it fails offline and
	// must not put the schedule back into service.
	svc.TriggerNow()
	require.True(t, svc.consumeTrigger())
	_, err := svc.Sync(context.Background(), ModeBidirectional)
	require.ErrorIs(t, err, common.ErrOffline)

	_, ok = svc.nextWait()
	assert.False(t, ok, "only a successful manual sync re-arms background sync")
}

func TestSuccessfulManualSyncReenablesAfterFailureLimit(t *testing.T) {
	svc, _ := newSchedulerFixture(t)
	disableViaFailures(svc, 3)

	_, ok := svc.nextWait()
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	// No timer is armed while disabled; only the trigger reaches Sync.
	svc.TriggerNow()
	require.Eventually(t, func() bool {
		return svc.LastResult() != nil
	}, 2*time.Second, 10*time.Millisecond)

	wait, ok := svc.nextWait()
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, wait, "success resets the backoff to the base interval")
}
