package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebot/internal/log"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New("test", log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func TestPublishReachesClients(t *testing.T) {
	h := startHub(t)
	a := &Client{hub: h, send: make(chan []byte, 4)}
	b := &Client{hub: h, send: make(chan []byte, 4)}
	h.register <- a
	h.register <- b
	waitForClients(t, h, 2)

	h.Publish(NewEvent(EventAnswer, "s1", map[string]string{"text": "hi"}))

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Type != EventAnswer || ev.Session != "s1" {
				t.Errorf("event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowClientDropped(t *testing.T) {
	h := startHub(t)
	slow := &Client{hub: h, send: make(chan []byte)}
	h.register <- slow

	waitForClients(t, h, 1)
	h.Publish(NewEvent(EventAnswer, "", nil))
	waitForClients(t, h, 0)
	if _, ok := <-slow.send; ok {
		t.Error("send channel not closed")
	}
}

func TestUnregisterAndShutdown(t *testing.T) {
	h := New("test", log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- c
	h.unregister <- c
	if _, ok := <-c.send; ok {
		t.Error("send channel not closed on unregister")
	}

	d := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- d
	cancel()
	<-h.Done()
	if _, ok := <-d.send; ok {
		t.Error("send channel not closed on shutdown")
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
