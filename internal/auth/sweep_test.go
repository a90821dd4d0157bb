package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portero.org/internal/auth"
	"portero.org/internal/notify"
)

func TestSweeperNextRunAnchorsToHour(t *testing.T) {
	h := newHarness(t)
	sw, err := auth.NewSweeper(h.svc, 2, 0, auth.WithSweepLocation(time.UTC))
	require.NoError(t, err)

	at := time.Date(2026, 4, 6, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 6, 2, 0, 0, 0, time.UTC), sw.NextRun(at))

	at = time.Date(2026, 4, 6, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 7, 2, 0, 0, 0, time.UTC), sw.NextRun(at))

	_, err = auth.NewSweeper(h.svc, 24, 0)
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestSweeperIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := notify.NotifierFunc(func(context.Context, notify.Notification) error {
		entered <- struct{}{}
		<-release
		return nil
	})
	h := newHarness(t, auth.WithNotifier(blocking))
	h.identity(t, "prof@colegio.edu", auth.RoleProfesor)
	h.clock.Advance(91 * 24 * time.Hour)

	sw, err := auth.NewSweeper(h.svc, 2, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sw.RunOnce(context.Background())
		done <- err
	}()
	<-entered

	_, err = sw.RunOnce(context.Background())
	require.ErrorIs(t, err, auth.ErrSweepInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestSweeperScheduleFiresOnTick(t *testing.T) {
	h := newHarness(t)
	h.identity(t, "prof@colegio.edu", auth.RoleProfesor)
	h.clock.Advance(91 * 24 * time.Hour)

	ticks := make(chan time.Time)
	var waits []time.Duration
	after := func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		return ticks
	}
	sw, err := auth.NewSweeper(h.svc, 2, 0,
		auth.WithSweepLocation(time.UTC),
		auth.WithSweepClock(h.clock.Now, after))
	require.NoError(t, err)

	sw.Start()
	ticks <- h.clock.Now()
	require.Eventually(t, func() bool {
		return len(h.notes.OfKind(notify.KindPasswordExpired)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	sw.Stop()

	require.NotEmpty(t, waits)
	assert.Equal(t, 18*time.Hour, waits[0])
}

func TestSweeperStepsFromFiredAnchor(t *testing.T) {
	h := newHarness(t)
	ticks := make(chan time.Time)
	waits := make(chan time.Duration, 8)
	after := func(d time.Duration) <-chan time.Time {
		waits <- d
		return ticks
	}
	sw, err := auth.NewSweeper(h.svc, 2, 0,
		auth.WithSweepLocation(time.UTC),
		auth.WithSweepClock(h.clock.Now, after))
	require.NoError(t, err)

	sw.Start()
	defer sw.Stop()
	assert.Equal(t, 18*time.Hour, <-waits)

	// The timer fired but the wall clock has not moved: the next run is the
	// following day's anchor, not the one that just fired.
	ticks <- h.clock.Now()
	assert.Equal(t, 42*time.Hour, <-waits)

	// After a jump past the next anchor the schedule resyncs to the clock.
	h.clock.Advance(3 * 24 * time.Hour)
	ticks <- h.clock.Now()
	assert.Equal(t, 18*time.Hour, <-waits)
}
