package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInBackground(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, 8, 1, time.Second)
	d.Start()

	require.NoError(t, d.Send(context.Background(), Notification{Kind: KindMFACode, Recipient: "a@example.edu"}))
	d.Stop()

	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, KindMFACode, sent[0].Kind)
}

func TestDispatcherSendDoesNotWaitForSlowSink(t *testing.T) {
	release := make(chan struct{})
	slow := NotifierFunc(func(ctx context.Context, _ Notification) error {
		<-release
		return nil
	})
	d := NewDispatcher(slow, 1, 1, time.Second)
	d.Start()
	defer func() {
		close(release)
		d.Stop()
	}()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_ = d.Send(context.Background(), Notification{Kind: KindPasswordExpiryWarning})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(&Recorder{}, 1, 1, time.Second)
	require.NoError(t, d.Send(context.Background(), Notification{Kind: KindMFACode}))
	err := d.Send(context.Background(), Notification{Kind: KindMFACode})
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestDispatcherSurvivesFailingSink(t *testing.T) {
	var calls atomic.Int32
	failing := NotifierFunc(func(context.Context, Notification) error {
		calls.Add(1)
		return errors.New("smtp down")
	})
	d := NewDispatcher(failing, 4, 1, time.Second)
	d.Start()
	require.NoError(t, d.Send(context.Background(), Notification{Kind: KindAccountLocked}))
	require.NoError(t, d.Send(context.Background(), Notification{Kind: KindAccountLocked}))
	d.Stop()
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookNotifierPostsJSONAndTripsBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, FailureThreshold: 2, OpenTimeout: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Error(t, wh.Send(context.Background(), Notification{Kind: KindPasswordExpired, Recipient: "x@example.edu"}))
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "open", wh.State())
}
