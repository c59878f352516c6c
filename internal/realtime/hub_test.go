package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mapAuth authorizes watch pairs listed in allow ("actor->protected").
type mapAuth struct {
	allow map[string]bool
}

func (a *mapAuth) IsAuthorized(ctx context.Context, actorID, protectedID string) (bool, error) {
	return a.allow[actorID+"->"+protectedID], nil
}

type hubFixture struct {
	hub    *Hub
	srv    *httptest.Server
	cancel context.CancelFunc
}

func startHub(t *testing.T, auth Authorizer) *hubFixture {
	t.Helper()
	hub := NewHub(auth, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &hubFixture{hub: hub, srv: srv, cancel: cancel}
}

func (f *hubFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	header := http.Header{"X-User-ID": []string{userID}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return &ev
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message: %s", data)
	}
}

func TestHub_RejectsAnonymousUpgrade(t *testing.T) {
	f := startHub(t, &mapAuth{})

	resp, err := http.Get(f.srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHub_PublishReachesOwnChannelOnly(t *testing.T) {
	f := startHub(t, &mapAuth{})

	margaret := f.dial(t, "usr_margaret")
	frank := f.dial(t, "usr_frank")
	time.Sleep(100 * time.Millisecond)

	f.hub.Publish(&Event{Type: EventAlertNew, Timestamp: time.Now(), Data: map[string]any{"id": "alr_1"}}, []string{"usr_margaret"})

	ev := readEvent(t, margaret)
	if ev.Type != EventAlertNew {
		t.Errorf("type = %s, want %s", ev.Type, EventAlertNew)
	}
	expectSilence(t, frank)
}

func TestHub_WatchAuthorizedChannel(t *testing.T) {
	auth := &mapAuth{allow: map[string]bool{"usr_david->usr_margaret": true}}
	f := startHub(t, auth)

	david := f.dial(t, "usr_david")
	if err := david.WriteJSON(map[string]any{"watch": []string{"usr_margaret"}}); err != nil {
		t.Fatalf("send watch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	f.hub.Publish(&Event{Type: EventAlertNew, Timestamp: time.Now()}, []string{"usr_margaret"})

	ev := readEvent(t, david)
	if ev.Type != EventAlertNew {
		t.Errorf("watching reviewer did not receive the event: %+v", ev)
	}
}

func TestHub_WatchDeniedWithoutTrustLink(t *testing.T) {
	f := startHub(t, &mapAuth{})

	stranger := f.dial(t, "usr_stranger")
	if err := stranger.WriteJSON(map[string]any{"watch": []string{"usr_margaret"}}); err != nil {
		t.Fatalf("send watch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	f.hub.Publish(&Event{Type: EventAlertNew, Timestamp: time.Now()}, []string{"usr_margaret"})
	expectSilence(t, stranger)
}

func TestHub_RewatchDropsRevokedChannel(t *testing.T) {
	auth := &mapAuth{allow: map[string]bool{"usr_david->usr_margaret": true}}
	f := startHub(t, auth)

	david := f.dial(t, "usr_david")
	if err := david.WriteJSON(map[string]any{"watch": []string{"usr_margaret"}}); err != nil {
		t.Fatalf("send watch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// The link is revoked; the next watch refresh re-checks and drops it
	auth.allow = map[string]bool{}
	if err := david.WriteJSON(map[string]any{"watch": []string{"usr_margaret"}}); err != nil {
		t.Fatalf("send watch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	f.hub.Publish(&Event{Type: EventAlertNew, Timestamp: time.Now()}, []string{"usr_margaret"})
	expectSilence(t, david)

	// Own channel still works
	f.hub.Publish(&Event{Type: EventAlertUpdate, Timestamp: time.Now()}, []string{"usr_david"})
	if ev := readEvent(t, david); ev.Type != EventAlertUpdate {
		t.Errorf("own-channel event lost: %+v", ev)
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := NewHub(&mapAuth{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"usr_a"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	time.Sleep(100 * time.Millisecond)

	cancel()
	time.Sleep(100 * time.Millisecond)

	// Upgrades after shutdown are refused
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("post-shutdown upgrade status = %d, want 503", resp.StatusCode)
	}
}

func TestHub_ShutdownReleasesPumpGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	hub := NewHub(&mapAuth{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	var conns []*websocket.Conn
	for i := 0; i < 5; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"usr_a"}})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conns = append(conns, conn)
	}
	time.Sleep(100 * time.Millisecond)

	cancel()
	time.Sleep(100 * time.Millisecond)
	for _, conn := range conns {
		_ = conn.Close()
	}
	srv.Close()

	// Every pump must exit after shutdown; a reader parked on the
	// unregister handoff keeps the count elevated forever.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("goroutines = %d, want near %d; websocket pumps leaked after shutdown",
		runtime.NumGoroutine(), before)
}
