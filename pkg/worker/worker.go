// Copyright 2024-2026 Aiku AI

// Package worker provides a serialized request boundary between the
// guild client and the bridge orchestrator. Requests cross the
// boundary as typed messages with correlation IDs and are handled
// strictly in order; callers waiting on a reply honor context
// cancellation and worker shutdown.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrWorkerStopped is returned by proxy calls after the worker shut
// down.
var ErrWorkerStopped = errors.New("worker: stopped")

// Kind discriminates request messages.
type Kind string

const (
	KindSendAsGhost     Kind = "send_as_ghost"
	KindEnqueuePresence Kind = "enqueue_presence"
	KindDequeuePresence Kind = "dequeue_presence"
)

// Request is one message crossing the worker boundary.
type Request struct {
	ID       string
	Kind     Kind
	UserID   string
	Username string
	RoomID   id.RoomID
	Content  *event.MessageEventContent

	reply chan Response
}

// Response answers a request that expects one.
type Response struct {
	ID      string
	EventID id.EventID
	Err     error
}

// Handler executes requests on the orchestrator side.
type Handler interface {
	SendAsGhost(ctx context.Context, userID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	EnqueuePresence(userID, username string)
	DequeuePresence(userID string)
}

// Worker drains the request channel in order.
type Worker struct {
	handler  Handler
	requests chan Request
	log      zerolog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a worker. Run must be called for requests to flow.
func New(handler Handler, log zerolog.Logger) *Worker {
	return &Worker{
		handler:  handler,
		requests: make(chan Request, 64),
		log:      log.With().Str("component", "worker").Logger(),
		stopped:  make(chan struct{}),
	}
}

// Run processes requests until the context is cancelled. Pending
// callers are released with ErrWorkerStopped.
func (w *Worker) Run(ctx context.Context) {
	defer w.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.dispatch(ctx, req)
		}
	}
}

func (w *Worker) shutdown() {
	w.stopOnce.Do(func() {
		close(w.stopped)
	})
	w.log.Info().Msg("Worker stopped")
}

func (w *Worker) dispatch(ctx context.Context, req Request) {
	switch req.Kind {
	case KindSendAsGhost:
		evtID, err := w.handler.SendAsGhost(ctx, req.UserID, req.RoomID, req.Content)
		if req.reply != nil {
			req.reply <- Response{ID: req.ID, EventID: evtID, Err: err}
		}
	case KindEnqueuePresence:
		w.handler.EnqueuePresence(req.UserID, req.Username)
	case KindDequeuePresence:
		w.handler.DequeuePresence(req.UserID)
	default:
		w.log.Warn().Str("kind", string(req.Kind)).Str("request_id", req.ID).Msg("Dropping unknown request kind")
	}
}

// Proxy is the caller-side handle to the worker.
type Proxy struct {
	w *Worker
}

// Proxy returns the caller-side handle.
func (w *Worker) Proxy() *Proxy {
	return &Proxy{w: w}
}

// SendAsGhost submits a send request and waits for its reply.
func (p *Proxy) SendAsGhost(ctx context.Context, userID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	req := Request{
		ID:      uuid.NewString(),
		Kind:    KindSendAsGhost,
		UserID:  userID,
		RoomID:  roomID,
		Content: content,
		reply:   make(chan Response, 1),
	}
	select {
	case p.w.requests <- req:
	case <-p.w.stopped:
		return "", ErrWorkerStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.EventID, resp.Err
	case <-p.w.stopped:
		return "", ErrWorkerStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// EnqueueUser submits a fire-and-forget presence tracking request.
func (p *Proxy) EnqueueUser(userID, username string) {
	p.submit(Request{
		ID:       uuid.NewString(),
		Kind:     KindEnqueuePresence,
		UserID:   userID,
		Username: username,
	})
}

// DequeueUser submits a fire-and-forget presence removal request.
func (p *Proxy) DequeueUser(userID string) {
	p.submit(Request{
		ID:     uuid.NewString(),
		Kind:   KindDequeuePresence,
		UserID: userID,
	})
}

func (p *Proxy) submit(req Request) {
	select {
	case p.w.requests <- req:
	case <-p.w.stopped:
	}
}
