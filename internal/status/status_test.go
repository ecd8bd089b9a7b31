package status_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hornwatch/internal/session"
	"github.com/MrWong99/hornwatch/internal/session/mock"
	"github.com/MrWong99/hornwatch/internal/status"
)

func TestHub_SubscribeGetsLastStatus(t *testing.T) {
	t.Parallel()

	h := status.NewHub(status.HubConfig{Buffer: 2})
	if _, ok := h.Last(); ok {
		t.Fatal("Last() reported a status before any was sent")
	}
	h.Status(session.Status{State: session.Listening, Message: "Listening for car horn..."})

	ch, cancel := h.Subscribe()
	defer cancel()
	select {
	case st := <-ch:
		if st.State != session.Listening {
			t.Errorf("state = %s, want listening", st.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no replay of last status")
	}

	h.Status(session.Status{State: session.Detected, Message: "Car horn detected!"})
	if st := <-ch; st.State != session.Detected {
		t.Errorf("state = %s, want detected", st.State)
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := status.NewHub(status.HubConfig{Buffer: 1})
	_, cancel := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for range 100 {
			h.Status(session.Status{State: session.Listening})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Status blocked on a full subscriber")
	}

	if h.Subscribers() != 1 {
		t.Errorf("subscribers = %d, want 1", h.Subscribers())
	}
	cancel()
	cancel()
	if h.Subscribers() != 0 {
		t.Errorf("subscribers after cancel = %d, want 0", h.Subscribers())
	}
}

func TestHub_Websocket(t *testing.T) {
	t.Parallel()

	h := status.NewHub(status.HubConfig{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// Wait for the server side to subscribe.
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Status(session.Status{SessionID: "s1", State: session.Detected, Message: "Car horn detected!"})

	var got session.Status
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.State != session.Detected || got.Message != "Car horn detected!" || got.SessionID != "s1" {
		t.Errorf("status = %+v", got)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	deadline = time.Now().Add(2 * time.Second)
	for h.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMultiAndLog(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	rec := &mock.StatusSink{}
	sink := status.Multi{status.Log{}, rec}
	sink.Status(session.Status{State: session.Idle, Message: "Microphone access not supported", Error: "session: audio capture not supported"})

	if len(rec.Statuses()) != 1 {
		t.Errorf("forwarded = %d, want 1", len(rec.Statuses()))
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "state=idle") {
		t.Errorf("log output = %s", out)
	}
}
