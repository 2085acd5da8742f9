package session

import (
	"context"
	"testing"
	"time"

	"github.com/aamira/courier-tracker/internal/directory"
	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/live"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/aamira/courier-tracker/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dirURL, liveURL string) *config.Config {
	cfg := config.Default()
	cfg.Directory.BaseURL = dirURL
	cfg.Directory.Timeout = 5 * time.Second
	cfg.Live.URL = liveURL
	cfg.Live.BackoffInitial = 5 * time.Millisecond
	cfg.Live.BackoffMax = 20 * time.Millisecond
	cfg.Live.PingInterval = 0
	if liveURL == "" {
		cfg.Live.Transport = TransportOff
	}
	return cfg
}

func newSession(t *testing.T, cfg *config.Config, views ...config.ViewSpec) *Session {
	t.Helper()
	s, err := New(Options{Config: cfg, Views: views, Logger: logging.Nop()})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSessionStartMountsSavedViews(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	fake.Seed(
		testutil.Package("PKG1", types.StatusInTransit, 1),
		testutil.Package("PKG2", types.StatusDelivered, 2),
	)
	fake.SeedCouriers(testutil.Courier("C1", "rafi", 1))

	s := newSession(t, testConfig(fake.URL(), ""),
		config.ViewSpec{Name: "moving", Resource: config.ResourcePackages, Query: types.Query{Status: types.StatusInTransit}.Normalize()},
		config.ViewSpec{Name: "riders", Resource: config.ResourceCouriers, Query: types.Query{}.Normalize()},
	)
	require.NoError(t, s.Start(context.Background()))

	views := s.Packages().Views()
	require.Len(t, views, 1)
	assert.Equal(t, "moving", views[0].Name())
	rows, _ := views[0].Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "PKG1", rows[0].ID)

	riders := s.Couriers().Views()
	require.Len(t, riders, 1)
	resource, ok := s.ViewResource(riders[0].ID())
	require.True(t, ok)
	assert.Equal(t, config.ResourceCouriers, resource)
	assert.Equal(t, 1, s.Couriers().Store().Len())

	assert.ErrorIs(t, s.Start(context.Background()), ErrStarted)
}

func TestSessionSavedViewFailureStaysMounted(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	fake.FailNext(500)

	s := newSession(t, testConfig(fake.URL(), ""),
		config.ViewSpec{Name: "all", Resource: config.ResourcePackages, Query: types.Query{}.Normalize()},
	)
	require.NoError(t, s.Start(context.Background()))

	views := s.Packages().Views()
	require.Len(t, views, 1)
	assert.NotEmpty(t, views[0].Snapshot().Error)

	fake.Seed(testutil.Package("PKG1", types.StatusCreated, 1))
	require.NoError(t, s.RefreshView(context.Background(), views[0].ID()))
	snap := views[0].Snapshot()
	assert.Empty(t, snap.Error)
	assert.Len(t, snap.Rows, 1)
}

func TestSessionLiveEventsUpdateViews(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	fake.RequireToken("tok")
	fake.Seed(testutil.Package("PKG1", types.StatusInTransit, 1))
	feed := testutil.NewFakeLive(t)

	cfg := testConfig(fake.URL(), feed.URL())
	cfg.Directory.Token = "tok"
	s := newSession(t, cfg,
		config.ViewSpec{Name: "moving", Resource: config.ResourcePackages, Query: types.Query{Status: types.StatusInTransit}.Normalize()},
	)
	require.NoError(t, s.Start(context.Background()))
	feed.WaitConnected(t)

	require.Eventually(t, func() bool {
		return s.LiveStatus().Connected
	}, 5*time.Second, 10*time.Millisecond)
	status := s.LiveStatus()
	assert.Equal(t, TransportWebSocket, status.Transport)
	assert.Equal(t, live.StateConnected.String(), status.State)

	headers := feed.Headers()
	require.NotEmpty(t, headers)
	assert.Equal(t, "Bearer tok", headers[0].Get("Authorization"))

	delivered := testutil.Package("PKG1", types.StatusDelivered, 5)
	feed.Emit(t, live.EventUpserted, delivered)

	v := s.Packages().Views()[0]
	require.Eventually(t, func() bool {
		rows, _ := v.Rows()
		return len(rows) == 0
	}, 5*time.Second, 10*time.Millisecond)

	got, ok := s.Packages().Store().Get("PKG1")
	require.True(t, ok)
	assert.Equal(t, types.StatusDelivered, got.Status)
}

func TestSessionSendStatusUpdate(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	feed := testutil.NewFakeLive(t)

	s := newSession(t, testConfig(fake.URL(), feed.URL()))
	require.NoError(t, s.Start(context.Background()))
	feed.WaitConnected(t)
	require.Eventually(t, func() bool {
		return s.LiveStatus().State == live.StateConnected.String()
	}, 5*time.Second, 10*time.Millisecond)

	err := s.SendStatusUpdate(context.Background(), types.StatusUpdate{Status: types.StatusDelivered})
	ve, ok := directory.AsValidation(err)
	require.True(t, ok, "got %v", err)
	assert.Contains(t, ve.Fields(), "packageId")

	require.NoError(t, s.SendStatusUpdate(context.Background(), types.StatusUpdate{
		PackageID:      "PKG1",
		Status:         types.StatusDelivered,
		EventTimestamp: testutil.At(3),
	}))
	select {
	case frame := <-feed.Received():
		assert.Contains(t, string(frame), live.EventStatusUpdate)
		assert.Contains(t, string(frame), "PKG1")
	case <-time.After(5 * time.Second):
		t.Fatal("status update not received")
	}
}

func TestSessionTransportOff(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	s := newSession(t, testConfig(fake.URL(), ""))
	require.NoError(t, s.Start(context.Background()))

	status := s.LiveStatus()
	assert.Equal(t, TransportOff, status.Transport)
	assert.False(t, status.Connected)

	err := s.SendStatusUpdate(context.Background(), types.StatusUpdate{PackageID: "PKG1", Status: types.StatusDelivered})
	assert.ErrorIs(t, err, live.ErrNotConnected)
}

func TestSessionUnknownTransport(t *testing.T) {
	cfg := testConfig("http://localhost:1/api/v1", "")
	cfg.Live.Transport = "carrier-pigeon"
	_, err := New(Options{Config: cfg, Logger: logging.Nop()})
	assert.Error(t, err)
}

func TestSessionCloseDiscardsCache(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	fake.Seed(testutil.Package("PKG1", types.StatusCreated, 1))
	fake.SeedCouriers(testutil.Courier("C1", "rafi", 1))
	feed := testutil.NewFakeLive(t)

	s := newSession(t, testConfig(fake.URL(), feed.URL()),
		config.ViewSpec{Name: "all", Resource: config.ResourcePackages, Query: types.Query{}.Normalize()},
		config.ViewSpec{Name: "riders", Resource: config.ResourceCouriers, Query: types.Query{}.Normalize()},
	)
	require.NoError(t, s.Start(context.Background()))
	v := s.Packages().Views()[0]
	require.Equal(t, 1, s.Packages().Store().Len())

	s.Close()
	s.Close()

	assert.True(t, s.Closed())
	assert.True(t, v.Closed())
	assert.Zero(t, s.Packages().Store().Len())
	assert.Zero(t, s.Couriers().Store().Len())
	assert.Empty(t, s.Packages().Views())
	assert.Empty(t, s.Client().Tokens().Token())
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestSessionsDoNotShareCache(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	fake.Seed(testutil.Package("PKG1", types.StatusCreated, 1))
	cfg := testConfig(fake.URL(), "")

	first := newSession(t, cfg)
	second := newSession(t, cfg)
	require.NotEqual(t, first.ID(), second.ID())

	_, err := first.Packages().Open(context.Background(), "", types.Query{})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Packages().Store().Len())
	assert.Zero(t, second.Packages().Store().Len())
}

func TestManager(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	metrics := monitoring.NewMetrics()
	m := NewManager(context.Background(), testConfig(fake.URL(), ""), nil, logging.Nop(), metrics)
	t.Cleanup(m.CloseAll)

	a, err := m.Open("")
	require.NoError(t, err)
	b, err := m.Open("other-token")
	require.NoError(t, err)

	assert.Equal(t, 2, m.Count())
	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.SessionsActive))
	assert.Equal(t, "other-token", b.Client().Tokens().Token())

	got, ok := m.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Len(t, m.List(), 2)

	require.NoError(t, m.Close(a.ID()))
	assert.ErrorIs(t, m.Close(a.ID()), ErrNotFound)
	assert.True(t, a.Closed())
	_, ok = m.Get(a.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, m.Count())

	m.CloseAll()
	assert.Zero(t, m.Count())
	assert.Equal(t, float64(0), promtest.ToFloat64(metrics.SessionsActive))
	assert.True(t, b.Closed())
}

func TestManagerUsesSourceFactory(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	feed := testutil.NewFakeLive(t)
	cfg := testConfig(fake.URL(), "")

	calls := 0
	m := NewManager(context.Background(), cfg, nil, logging.Nop(), nil).WithSource(func() live.Source[types.Package] {
		calls++
		sub, err := live.NewSubscriber(live.Options[types.Package]{URL: feed.URL()})
		require.NoError(t, err)
		return sub
	})
	t.Cleanup(m.CloseAll)

	_, err := m.Open("")
	require.NoError(t, err)
	feed.WaitConnected(t)
	assert.Equal(t, 1, calls)
}
