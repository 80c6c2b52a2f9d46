package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func testConfig(onMessage func(string, []byte)) Config {
	return Config{
		Venue:       "testvenue",
		Logger:      zap.NewNop(),
		DialTimeout: 2 * time.Second,
		Reconnect: ReconnectConfig{
			InitialDelay:      10 * time.Millisecond,
			MaxDelay:          50 * time.Millisecond,
			BackoffMultiplier: 2,
			JitterPercent:     0,
		},
		QueueSize: 16,
		OnMessage: onMessage,
	}
}

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestManager_AddAndSend(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)

	mgr := New(testConfig(func(connectionID string, raw []byte) {
		mu.Lock()
		received = append(received, string(raw))
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	mgr.Start()
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := mgr.Add(ctx, "spot:main", wsURL(srv.URL)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := mgr.Send(ctx, "spot:main", []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != `{"hello":"world"}` {
		t.Errorf("received = %v, want one echoed frame", received)
	}
}

func TestManager_AddIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	mgr := New(testConfig(func(string, []byte) {}))
	mgr.Start()
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := mgr.Add(ctx, "spot:main", wsURL(srv.URL)); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	if err := mgr.Add(ctx, "spot:main", wsURL(srv.URL)); err != nil {
		t.Fatalf("second Add() error = %v", err)
	}
}

func TestManager_RemoveUnknownIsNoOp(t *testing.T) {
	mgr := New(testConfig(func(string, []byte) {}))
	mgr.Start()
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := mgr.Remove(ctx, "spot:missing"); err != nil {
		t.Errorf("Remove() on unknown connection error = %v, want nil", err)
	}
}

func TestManager_SendToUnknownConnectionErrors(t *testing.T) {
	mgr := New(testConfig(func(string, []byte) {}))
	mgr.Start()
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := mgr.Send(ctx, "spot:missing", []byte("x")); err == nil {
		t.Error("Send() to unknown connection error = nil, want error")
	}
}

func TestManager_RemoveThenSendErrors(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	mgr := New(testConfig(func(string, []byte) {}))
	mgr.Start()
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := mgr.Add(ctx, "spot:main", wsURL(srv.URL)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := mgr.Remove(ctx, "spot:main"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := mgr.Send(ctx, "spot:main", []byte("x")); err == nil {
		t.Error("Send() after Remove() error = nil, want error")
	}
}

func TestManager_ReconnectOnServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connCount int
	var mu sync.Mutex
	firstClosed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		if n == 1 {
			conn.Close()
			close(firstClosed)
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	mgr := New(testConfig(func(string, []byte) {}))
	mgr.Start()
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.Add(ctx, "spot:main", wsURL(srv.URL)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	<-firstClosed

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := connCount
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for automatic reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
