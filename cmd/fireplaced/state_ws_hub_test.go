package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// NOTE: These tests focus on hub behavior (fanout + slow-client
// disconnection) without standing up a real websocket server. Clients are
// constructed with a nil websocket.Conn; the hub guards against nil on
// eviction.

func newTestHub(t *testing.T, sendBuf, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(testLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, addr string, sendBuf int) *Client {
	return &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, sendBuf),
		remoteAddr: addr,
		logger:     testLogger(),
	}
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	hub.add(c1)
	hub.add(c2)

	msg := []byte(`{"type":"volume_changed","data":{"volume":42}}`)

	// Avoid BroadcastBytes() here because it is intentionally non-blocking
	// and may drop if the hub queue is temporarily full during scheduling.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("client %s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for client %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for hub to stop")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sendBuf=1 so we can fill it easily; broadcastBuf ample.
	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	hub.add(slow)
	hub.add(fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"run_state_changed","data":{"running":false}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for fast client to receive broadcast")
	}

	// The slow client should be disconnected and its send channel closed.
	// (The pre-filled message may still be buffered; drain it first.)
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

// TestHub_RemoveClientIdempotent covers the two disconnect paths racing:
// the fanout loop evicting a slow client while its readPump removes it on a
// read error. The second removal must be a no-op, not a double close.
func TestHub_RemoveClientIdempotent(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	c := newTestClient(hub, "c", 4)
	hub.add(c)

	hub.removeClient(c, "slow_client")
	hub.removeClient(c, "read_closed")

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed after removal")
	}
}

func TestStateServer_NotificationsCarryEnvelope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))
	srv := newStateServer(ctrl, testLogger(), HubConfig{SendBuf: 4, BroadcastBuf: 8})

	go srv.Hub().Run(ctx)

	c := newTestClient(srv.Hub(), "c", 4)
	srv.Hub().add(c)

	srv.NotifyVolume(64)

	select {
	case raw := <-c.send:
		var env struct {
			Type string       `json:"type"`
			Data wsVolumeData `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal broadcast %q: %v", raw, err)
		}
		if env.Type != "volume_changed" || env.Data.Volume != 64 {
			t.Errorf("broadcast = %+v, want volume_changed/64", env)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for volume broadcast")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
