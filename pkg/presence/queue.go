// Copyright 2024-2026 Aiku AI

package presence

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// DefaultInterval is the tick interval used when Start is given a
// non-positive duration. One user is published per tick.
const DefaultInterval = 500 * time.Millisecond

// StatusSource looks up the current Discord presence for a user.
// A nil presence with nil error means the user is not visible and is
// treated as offline.
type StatusSource interface {
	Presence(userID string) (*discordgo.Presence, error)
}

// Publisher delivers a derived status to Matrix as the user's ghost.
// Implementations are responsible for recovering from permission
// errors (re-provisioning the ghost); any error returned here is
// logged and the queue moves on.
type Publisher interface {
	PublishPresence(ctx context.Context, userID string, status Status) error
}

type entry struct {
	userID   string
	username string
}

// Queue cycles through tracked Discord users, republishing one user's
// presence per tick. Users whose derived status says drop leave the
// cycle after their final publish.
type Queue struct {
	source    StatusSource
	publisher Publisher
	selfID    string
	log       zerolog.Logger

	mu      sync.Mutex
	entries []entry
	index   map[string]struct{}
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewQueue creates a presence queue. selfID is the bridge's own
// Discord user ID, which is never enqueued.
func NewQueue(source StatusSource, publisher Publisher, selfID string, log zerolog.Logger) *Queue {
	return &Queue{
		source:    source,
		publisher: publisher,
		selfID:    selfID,
		log:       log.With().Str("component", "presence_queue").Logger(),
		index:     make(map[string]struct{}),
	}
}

// EnqueueUser adds a user to the republish cycle. Duplicate IDs and
// the bridge's own account are rejected silently.
func (q *Queue) EnqueueUser(userID, username string) {
	if userID == q.selfID {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[userID]; ok {
		return
	}
	q.index[userID] = struct{}{}
	q.entries = append(q.entries, entry{userID: userID, username: username})
	q.log.Debug().Str("user_id", userID).Str("username", username).Msg("Enqueued user for presence updates")
}

// DequeueUser removes a user from the cycle. Removing an absent user
// is a logged no-op.
func (q *Queue) DequeueUser(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[userID]; !ok {
		q.log.Debug().Str("user_id", userID).Msg("Dequeue requested for untracked user")
		return
	}
	delete(q.index, userID)
	for i, e := range q.entries {
		if e.userID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.log.Debug().Str("user_id", userID).Msg("Dequeued user from presence updates")
}

// Len returns the number of tracked users.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// Start begins the tick loop. Starting an already running queue
// restarts it with the new interval.
func (q *Queue) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	q.Stop()

	q.mu.Lock()
	q.running = true
	q.stop = make(chan struct{})
	stop := q.stop
	q.mu.Unlock()

	q.log.Info().Dur("interval", interval).Msg("Starting presence queue")
	q.wg.Add(1)
	go q.run(interval, stop)
}

func (q *Queue) run(interval time.Duration, stop chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.tick(context.Background())
		}
	}
}

// Stop halts the tick loop. Safe to call at any time, including
// before Start and repeatedly.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stop)
	q.mu.Unlock()
	q.wg.Wait()
	q.log.Info().Msg("Presence queue stopped")
}

// tick pops the head entry, publishes its current status and requeues
// it unless the status says drop or the user was dequeued while the
// publish was in flight.
func (q *Queue) tick(ctx context.Context) {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	q.mu.Unlock()

	raw, err := q.source.Presence(head.userID)
	if err != nil {
		q.log.Warn().Err(err).
			Str("user_id", head.userID).
			Str("username", head.username).
			Msg("Failed to look up presence")
		// A lookup failure says nothing about the user's actual
		// state, so requeue instead of publishing offline.
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.index[head.userID]; ok {
			q.entries = append(q.entries, head)
		}
		return
	}
	status := Derive(raw)

	if err := q.publisher.PublishPresence(ctx, head.userID, status); err != nil {
		q.log.Warn().Err(err).
			Str("user_id", head.userID).
			Str("username", head.username).
			Msg("Failed to publish presence")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if status.Drop {
		delete(q.index, head.userID)
		q.log.Debug().Str("user_id", head.userID).Msg("Dropped offline user from presence cycle")
		return
	}
	// Skip the requeue if the user was dequeued mid-publish.
	if _, ok := q.index[head.userID]; ok {
		q.entries = append(q.entries, head)
	}
}
