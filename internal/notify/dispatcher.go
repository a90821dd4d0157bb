package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portero.org/internal/obs"
)

// ErrQueueFull is returned when the dispatcher drops a notification.
var ErrQueueFull = errors.New("notify: queue full")

// Dispatcher hands notifications to a sink on background workers. Send never
// waits on the sink.
type Dispatcher struct {
	sink    Notifier
	queue   chan Notification
	workers int
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher with a bounded queue.
func NewDispatcher(sink Notifier, queueSize, workers int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Notification, queueSize),
		workers: workers,
		timeout: timeout,
		logger:  obs.Component("notify-dispatcher"),
	}
}

// Send enqueues n. A full queue drops the notification.
func (d *Dispatcher) Send(_ context.Context, n Notification) error {
	select {
	case d.queue <- n:
		obs.ObserveNotification(string(n.Kind), "queued")
		return nil
	default:
		obs.ObserveNotification(string(n.Kind), "dropped")
		d.logger.Warn().Str("kind", string(n.Kind)).Str("recipient", n.Recipient).Msg("notification queue full, dropping")
		return ErrQueueFull
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(d.stopCh)
	}
}

// Stop drains what is queued and waits for the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()
	d.wg.Wait()
}

// Serve runs the dispatcher until ctx is done.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.Start()
	<-ctx.Done()
	d.Stop()
	return ctx.Err()
}

func (d *Dispatcher) String() string { return "notify-dispatcher" }

func (d *Dispatcher) work(stop <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-stop:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Send(ctx, n); err != nil {
		obs.ObserveNotification(string(n.Kind), "failed")
		d.logger.Error().Err(err).Str("kind", string(n.Kind)).Str("recipient", n.Recipient).Msg("notification delivery failed")
		return
	}
	obs.ObserveNotification(string(n.Kind), "sent")
}
