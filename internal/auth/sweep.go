package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"portero.org/internal/notify"
	"portero.org/internal/obs"
)

// ErrSweepInProgress is returned when a sweep is requested while one runs.
var ErrSweepInProgress = errors.New("auth: password expiry sweep already running")

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
}

// SweepPasswordExpiry flags passwords past the maximum age and sends the
// expiry notices. Warnings go out only when the days remaining match one of
// the configured warning days exactly.
func (s *Service) SweepPasswordExpiry(ctx context.Context) (SweepResult, error) {
	now := s.now()
	candidates, err := s.store.ListExpiryCandidates(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expiry candidates: %w", err)
	}
	var (
		res  SweepResult
		errs []error
	)
	for _, identity := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Scanned++
		st := passwordStatus(identity, now, s.expiry)
		switch {
		case st.Expired:
			changed, err := s.store.MarkPasswordExpired(ctx, identity.ID)
			if err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("expire %s: %w", identity.ID, err))
				continue
			}
			if !changed {
				continue
			}
			res.Expired++
			s.notify(ctx, notify.Notification{
				Kind:      notify.KindPasswordExpired,
				Recipient: identity.Email,
				Data:      map[string]any{"identity_id": identity.ID, "age_days": st.AgeDays},
			})
		case st.WarnDaysRemaining > 0:
			res.Warned++
			s.notify(ctx, notify.Notification{
				Kind:      notify.KindPasswordExpiryWarning,
				Recipient: identity.Email,
				Data:      map[string]any{"identity_id": identity.ID, "days_remaining": st.WarnDaysRemaining},
			})
		}
	}
	return res, errors.Join(errs...)
}

// Sweeper runs SweepPasswordExpiry once a day at a fixed wall-clock time.
// Runs are single-flight: a tick that fires while a run is active is skipped.
type Sweeper struct {
	svc    *Service
	hour   int
	minute int
	loc    *time.Location
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	running sync.Mutex

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
	runs   sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepClock injects the clock and the timer used between runs.
func WithSweepClock(now func() time.Time, after func(time.Duration) <-chan time.Time) SweeperOption {
	return func(sw *Sweeper) {
		if now != nil {
			sw.now = now
		}
		if after != nil {
			sw.after = after
		}
	}
}

// WithSweepLocation sets the time zone of the daily anchor.
func WithSweepLocation(loc *time.Location) SweeperOption {
	return func(sw *Sweeper) {
		if loc != nil {
			sw.loc = loc
		}
	}
}

// NewSweeper schedules svc's sweep daily at hour:minute.
func NewSweeper(svc *Service, hour, minute int, opts ...SweeperOption) (*Sweeper, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: sweeper needs a service", ErrNotConfigured)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: sweep time %02d:%02d", ErrInvalidInput, hour, minute)
	}
	sw := &Sweeper{
		svc:    svc,
		hour:   hour,
		minute: minute,
		loc:    time.Local,
		now:    svc.now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw, nil
}

// NextRun returns the first anchor strictly after t.
func (sw *Sweeper) NextRun(t time.Time) time.Time {
	local := t.In(sw.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), sw.hour, sw.minute, 0, 0, sw.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce runs a sweep now unless one is already in progress.
func (sw *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	if !sw.running.TryLock() {
		obs.ObserveSweep("skipped")
		return SweepResult{}, ErrSweepInProgress
	}
	defer sw.running.Unlock()

	logger := logFor(ctx).With().Str("task", "password_expiry_sweep").Logger()
	start := time.Now()
	res, err := sw.svc.SweepPasswordExpiry(ctx)
	ev := logger.Info()
	result := "ok"
	if err != nil {
		result = "error"
		ev = logger.Error().Err(err)
	}
	obs.ObserveSweep(result)
	ev.Int("scanned", res.Scanned).
		Int("expired", res.Expired).
		Int("warned", res.Warned).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("password expiry sweep finished")
	return res, err
}

// Start launches the daily schedule. Calling Start twice is a no-op.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.stopCh != nil {
		return
	}
	sw.stopCh = make(chan struct{})
	sw.doneCh = make(chan struct{})
	go sw.loop(sw.stopCh, sw.doneCh)
}

// Stop ends the schedule and waits for an in-flight run.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	stopCh, doneCh := sw.stopCh, sw.doneCh
	sw.stopCh, sw.doneCh = nil, nil
	sw.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// Serve runs the schedule until ctx is done.
func (sw *Sweeper) Serve(ctx context.Context) error {
	sw.Start()
	<-ctx.Done()
	sw.Stop()
	return ctx.Err()
}

func (sw *Sweeper) String() string { return "password-expiry-sweeper" }

func (sw *Sweeper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		sw.runs.Wait()
	}()
	next := sw.NextRun(sw.now())
	for {
		wait := next.Sub(sw.now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-stop:
			return
		case <-sw.after(wait):
			sw.runs.Add(1)
			go func() {
				defer sw.runs.Done()
				_, _ = sw.RunOnce(ctx)
			}()
			// Step from the anchor that fired so a wall clock lagging the
			// timer cannot schedule the same anchor twice.
			next = sw.NextRun(next)
			if now := sw.now(); !next.After(now) {
				next = sw.NextRun(now)
			}
		}
	}
}
