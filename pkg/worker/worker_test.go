// Copyright 2024-2026 Aiku AI

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// fakeHandler records handled requests.
type fakeHandler struct {
	mu       sync.Mutex
	sends    []string
	enqueues []string
	dequeues []string

	SendErr error
}

func (h *fakeHandler) SendAsGhost(_ context.Context, userID string, _ id.RoomID, _ *event.MessageEventContent) (id.EventID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendErr != nil {
		return "", h.SendErr
	}
	h.sends = append(h.sends, userID)
	return id.EventID("$evt-" + userID), nil
}

func (h *fakeHandler) EnqueuePresence(userID, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueues = append(h.enqueues, userID)
}

func (h *fakeHandler) DequeuePresence(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dequeues = append(h.dequeues, userID)
}

func startWorker(t *testing.T, handler Handler) (*Worker, context.CancelFunc) {
	t.Helper()
	w := New(handler, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, cancel
}

func TestProxySendRoundTrip(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	w, _ := startWorker(t, handler)

	content := &event.MessageEventContent{MsgType: event.MsgText, Body: "hi"}
	evtID, err := w.Proxy().SendAsGhost(context.Background(), "user1", "!room:example.com", content)
	if err != nil {
		t.Fatalf("SendAsGhost() error: %v", err)
	}
	if evtID != "$evt-user1" {
		t.Errorf("event ID = %q, want %q", evtID, "$evt-user1")
	}
}

func TestProxySendPropagatesError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("homeserver down")
	handler := &fakeHandler{SendErr: wantErr}
	w, _ := startWorker(t, handler)

	_, err := w.Proxy().SendAsGhost(context.Background(), "user1", "!room:example.com", nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("SendAsGhost() error = %v, want %v", err, wantErr)
	}
}

func TestProxyAfterStop(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	w := New(handler, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	cancel()
	<-done

	if _, err := w.Proxy().SendAsGhost(context.Background(), "user1", "!room:example.com", nil); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("SendAsGhost() after stop = %v, want ErrWorkerStopped", err)
	}
	// Fire-and-forget calls must not block after stop.
	w.Proxy().EnqueueUser("user1", "alice")
	w.Proxy().DequeueUser("user1")
}

func TestProxySendContextCancelled(t *testing.T) {
	t.Parallel()
	// Never run the worker, so the request cannot be accepted.
	w := New(&fakeHandler{}, zerolog.Nop())
	// Fill the channel so submission blocks.
	for i := 0; i < cap(w.requests); i++ {
		w.requests <- Request{Kind: KindEnqueuePresence}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Proxy().SendAsGhost(ctx, "user1", "!room:example.com", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("SendAsGhost() = %v, want context.Canceled", err)
	}
}

func TestPresenceRequestsReachHandler(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	w, _ := startWorker(t, handler)

	proxy := w.Proxy()
	proxy.EnqueueUser("user1", "alice")
	proxy.EnqueueUser("user2", "bob")
	proxy.DequeueUser("user1")

	deadline := time.After(2 * time.Second)
	for {
		handler.mu.Lock()
		done := len(handler.enqueues) == 2 && len(handler.dequeues) == 1
		handler.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("presence requests did not reach the handler in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.enqueues[0] != "user1" || handler.enqueues[1] != "user2" {
		t.Errorf("enqueues = %v, want ordered [user1 user2]", handler.enqueues)
	}
}

func TestRequestsHandledInOrder(t *testing.T) {
	t.Parallel()
	handler := &fakeHandler{}
	w, _ := startWorker(t, handler)

	proxy := w.Proxy()
	for _, user := range []string{"a", "b", "c", "d"} {
		if _, err := proxy.SendAsGhost(context.Background(), user, "!room:example.com", nil); err != nil {
			t.Fatal(err)
		}
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	for i, user := range want {
		if handler.sends[i] != user {
			t.Fatalf("sends = %v, want %v", handler.sends, want)
		}
	}
}
