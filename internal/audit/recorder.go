package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
)

const (
	recorderQueueSize = 256
	writeTimeout      = 5 * time.Second
)

// Recorder is a bridge.Observer that writes generation boundaries to a Repository.
//
// Observer calls only enqueue; a single goroutine performs the writes so a
// slow disk never stalls a device lane. When the queue is full the event is
// dropped and logged.
type Recorder struct {
	bridge.NopObserver

	repo   Repository
	logger *logging.Logger

	mu     sync.Mutex
	queue  chan Event
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
}

// NewRecorder starts a recorder. Close flushes and stops it.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Recorder{
		repo:   repo,
		logger: logger.With("component", "audit"),
		queue:  make(chan Event, recorderQueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// GenerationStarted records a found row.
func (r *Recorder) GenerationStarted(p bridge.Presence) {
	r.enqueue(Event{
		DeviceID:   p.DeviceID,
		DeviceName: p.Name,
		Generation: p.Generation,
		Kind:       KindFound,
		CreatedAt:  p.Since,
	})
}

// GenerationEnded records a lost or shutdown row.
func (r *Recorder) GenerationEnded(p bridge.Presence, reason string) {
	kind := KindLost
	if reason == bridge.EndReasonShutdown {
		kind = KindShutdown
	}
	r.enqueue(Event{
		DeviceID:   p.DeviceID,
		DeviceName: p.Name,
		Generation: p.Generation,
		Kind:       kind,
		CreatedAt:  time.Now().UTC(),
	})
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Error("audit queue full, dropping event", "device_id", ev.DeviceID, "event", ev.Kind)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Create(ctx, &ev); err != nil {
			r.logger.Error("recording lifecycle event", "device_id", ev.DeviceID, "event", ev.Kind, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written,
// or for ctx to expire. Safe to call multiple times.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
