package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// FakeLive is an in-process Live Update Channel
type FakeLive struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	refuse    int
	flap      int
	dials     int
	headers   []http.Header
	connected chan struct{}
	received  chan []byte
}

// NewFakeLive starts a fake live channel closed at test cleanup
func NewFakeLive(t testing.TB) *FakeLive {
	t.Helper()

	f := &FakeLive{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		connected: make(chan struct{}, 64),
		received:  make(chan []byte, 64),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// URL returns the ws:// endpoint
func (f *FakeLive) URL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

// Close drops every connection and stops the server
func (f *FakeLive) Close() {
	f.DropAll()
	f.server.Close()
}

// RefuseNext answers the next n dials with 503
func (f *FakeLive) RefuseNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refuse = n
}

// FlapNext accepts the next n handshakes and closes each connection at once
func (f *FakeLive) FlapNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flap = n
}

// Dials returns how many handshakes were attempted
func (f *FakeLive) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Headers returns the request headers of every accepted handshake
func (f *FakeLive) Headers() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]http.Header(nil), f.headers...)
}

// WaitConnected blocks until a client connects
func (f *FakeLive) WaitConnected(t testing.TB) {
	t.Helper()
	select {
	case <-f.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for live client")
	}
}

// Received returns frames sent by clients
func (f *FakeLive) Received() <-chan []byte {
	return f.received
}

// Emit sends an {"event","data"} frame to every client
func (f *FakeLive) Emit(t testing.TB, event string, data any) {
	t.Helper()
	payload, err := sonic.Marshal(data)
	if err != nil {
		t.Fatalf("encode live payload: %v", err)
	}
	frame, err := sonic.Marshal(map[string]any{"event": event, "data": json.RawMessage(payload)})
	if err != nil {
		t.Fatalf("encode live frame: %v", err)
	}
	f.EmitRaw(t, frame)
}

// EmitRaw sends raw bytes to every client
func (f *FakeLive) EmitRaw(t testing.TB, frame []byte) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Logf("live write: %v", err)
		}
	}
}

// DropAll closes every client connection
func (f *FakeLive) DropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (f *FakeLive) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.dials++
	if f.refuse > 0 {
		f.refuse--
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	flap := f.flap > 0
	if flap {
		f.flap--
	}
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if flap {
		_ = conn.Close()
		return
	}

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()
	f.connected <- struct{}{}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case f.received <- msg:
		default:
		}
	}
}
