package live

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/infrastructure/resilience"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/aamira/courier-tracker/internal/testutil"
	"github.com/bytedance/sonic"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() *resilience.Backoff {
	return &resilience.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond}
}

func next[T any](t *testing.T, events <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for live event")
		return Event[T]{}
	}
}

func newSubscriber(t *testing.T, url string, mutate ...func(*Options[types.Package])) *Subscriber[types.Package] {
	t.Helper()
	opts := Options[types.Package]{
		URL:         url,
		Backoff:     fastBackoff(),
		MaxAttempts: 3,
	}
	for _, m := range mutate {
		m(&opts)
	}
	sub, err := NewSubscriber(opts)
	require.NoError(t, err)
	return sub
}

func TestNewSubscriberRequiresURL(t *testing.T) {
	_, err := NewSubscriber(Options[types.Package]{})
	assert.Error(t, err)
}

func TestSubscriberStream(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	sub := newSubscriber(t, fake.URL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)

	ev := next(t, events)
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, StateConnected, sub.State())
	fake.WaitConnected(t)

	fake.Emit(t, "package_update", testutil.Package("PKG1", types.StatusInTransit, 5))
	ev = next(t, events)
	assert.Equal(t, KindUpserted, ev.Kind)
	assert.Equal(t, "PKG1", ev.Record.ID)
	assert.Equal(t, types.StatusInTransit, ev.Record.Status)

	// malformed frames are skipped, the stream continues
	fake.EmitRaw(t, []byte(`not a frame`))
	fake.Emit(t, "unknown", map[string]string{})
	fake.Emit(t, EventRemoved, map[string]string{"id": "PKG1"})
	ev = next(t, events)
	assert.Equal(t, KindRemoved, ev.Kind)
	assert.Equal(t, "PKG1", ev.ID)

	fake.Emit(t, "package_delete", "PKG2")
	ev = next(t, events)
	assert.Equal(t, KindRemoved, ev.Kind)
	assert.Equal(t, "PKG2", ev.ID)

	cancel()
	for range events {
	}
	assert.Equal(t, StateDisconnected, sub.State())
}

func TestSubscriberReconnects(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	metrics := monitoring.NewMetrics()
	sub := newSubscriber(t, fake.URL(), func(o *Options[types.Package]) {
		o.Metrics = metrics
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)

	require.Equal(t, KindConnected, next(t, events).Kind)
	fake.WaitConnected(t)

	fake.DropAll()

	ev := next(t, events)
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, 2, ev.Attempt)
	fake.WaitConnected(t)
	assert.Equal(t, 2, fake.Dials())
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.LiveReconnects))

	// the new connection delivers events
	fake.Emit(t, EventUpserted, testutil.Package("PKG9", types.StatusCreated, 1))
	assert.Equal(t, "PKG9", next(t, events).ID)
}

func TestSubscriberReportsDegraded(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	fake.RefuseNext(3)
	sub := newSubscriber(t, fake.URL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)

	ev := next(t, events)
	assert.Equal(t, KindDegraded, ev.Kind)
	assert.Equal(t, 3, ev.Attempts)

	// keeps retrying after degraded
	ev = next(t, events)
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, 4, ev.Attempt)
}

func TestSubscriberDegradedOncePerStreak(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	fake.RefuseNext(5)
	sub := newSubscriber(t, fake.URL(), func(o *Options[types.Package]) {
		o.MaxAttempts = 2
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)

	assert.Equal(t, KindDegraded, next(t, events).Kind)
	ev := next(t, events)
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, 6, ev.Attempt)
}

func TestSubscriberFlappingLinkBacksOff(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	fake.FlapNext(3)
	sub := newSubscriber(t, fake.URL(), func(o *Options[types.Package]) {
		o.Backoff = &resilience.Backoff{Initial: 40 * time.Millisecond, Max: time.Second}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)

	start := time.Now()
	for attempt := 1; attempt <= 3; attempt++ {
		ev := next(t, events)
		require.Equal(t, KindConnected, ev.Kind)
		assert.Equal(t, attempt, ev.Attempt)
	}

	// links that close right after the handshake count as failed attempts
	ev := next(t, events)
	assert.Equal(t, KindDegraded, ev.Kind)
	assert.Equal(t, 3, ev.Attempts)
	assert.Equal(t, 3, fake.Dials())

	ev = next(t, events)
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, 4, ev.Attempt)
	// 40ms + 80ms + 160ms of backoff between the four dials
	assert.GreaterOrEqual(t, time.Since(start), 240*time.Millisecond)
	assert.Equal(t, 4, fake.Dials())
}

func TestSubscriberSendStatusUpdate(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	sub := newSubscriber(t, fake.URL())

	update := types.StatusUpdate{
		PackageID:      "PKG1",
		Status:         types.StatusDelivered,
		Lat:            testutil.Ptr(23.81),
		Lon:            testutil.Ptr(90.41),
		EventTimestamp: testutil.At(30),
	}
	assert.ErrorIs(t, sub.SendStatusUpdate(context.Background(), update), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)
	require.Equal(t, KindConnected, next(t, events).Kind)
	fake.WaitConnected(t)

	require.NoError(t, sub.SendStatusUpdate(ctx, update))

	select {
	case raw := <-fake.Received():
		var frame Frame
		require.NoError(t, sonic.Unmarshal(raw, &frame))
		assert.Equal(t, EventStatusUpdate, frame.Event)

		var got types.StatusUpdate
		require.NoError(t, sonic.Unmarshal(frame.Data, &got))
		assert.Equal(t, "PKG1", got.PackageID)
		assert.Equal(t, types.StatusDelivered, got.Status)
		assert.True(t, got.EventTimestamp.Equal(update.EventTimestamp))
	case <-time.After(5 * time.Second):
		t.Fatal("status update not received")
	}
}

func TestSubscriberHeadersAndNormalize(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	var token atomic.Value
	token.Store("tok1")
	sub := newSubscriber(t, fake.URL(), func(o *Options[types.Package]) {
		o.Header = func() http.Header {
			return http.Header{"Authorization": []string{"Bearer " + token.Load().(string)}}
		}
		o.Normalize = func(p types.Package) types.Package {
			p.Status = types.ParseStatus(string(p.Status))
			return p
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sub.Events(ctx)
	require.Equal(t, KindConnected, next(t, events).Kind)
	fake.WaitConnected(t)

	pkg := testutil.Package("PKG1", "Pending", 1)
	fake.Emit(t, EventUpserted, pkg)
	assert.Equal(t, types.StatusCreated, next(t, events).Record.Status)

	// a refreshed token is used on the next dial
	token.Store("tok2")
	fake.DropAll()
	require.Equal(t, KindConnected, next(t, events).Kind)
	fake.WaitConnected(t)

	headers := fake.Headers()
	require.Len(t, headers, 2)
	assert.Equal(t, "Bearer tok1", headers[0].Get("Authorization"))
	assert.Equal(t, "Bearer tok2", headers[1].Get("Authorization"))
}

func TestSubscriberRestartable(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	sub := newSubscriber(t, fake.URL())

	ctx, cancel := context.WithCancel(context.Background())
	events := sub.Events(ctx)
	require.Equal(t, KindConnected, next(t, events).Kind)
	cancel()
	for range events {
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	events = sub.Events(ctx2)
	ev := next(t, events)
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, 1, ev.Attempt)
}

func TestSubscriberSingleStream(t *testing.T) {
	fake := testutil.NewFakeLive(t)
	sub := newSubscriber(t, fake.URL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := sub.Events(ctx)
	require.Equal(t, KindConnected, next(t, first).Kind)

	second := sub.Events(ctx)
	_, ok := <-second
	assert.False(t, ok, "a second concurrent stream is refused")
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Live
	opts := OptionsFromConfig[types.Package](cfg)

	assert.Equal(t, cfg.URL, opts.URL)
	assert.Equal(t, cfg.MaxAttempts, opts.MaxAttempts)
	assert.Equal(t, cfg.PingInterval, opts.PingInterval)
	assert.Equal(t, cfg.BackoffInitial, opts.Backoff.Initial)
	assert.Equal(t, cfg.BackoffMax, opts.Backoff.Max)
}
