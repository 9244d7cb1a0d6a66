package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

const (
	// laneQueueSize bounds pending discovery events per device id.
	laneQueueSize = 16

	// statusTimeout bounds the connected=1 publish during retirement.
	statusTimeout = 5 * time.Second
)

// ManagerOptions holds the collaborators of a Manager.
type ManagerOptions struct {
	Topics mqtt.Topics
	QoS    byte
	Pool   *Pool

	// Optional.
	Observer Observer
	Logger   *logging.Logger
}

// laneEvent is a discovery event queued on a device lane.
// device is set for found, nil for lost.
type laneEvent struct {
	deviceID string
	device   Device
}

// lane serialises the discovery events of one device id.
type lane struct {
	events  chan laneEvent
	pending int // queued or in-flight events, guarded by Manager.lanesMu
}

// Manager drives the per-device lifecycle ABSENT → PRESENT → ABSENT.
//
// On found it publishes connected=2, starts the outgoing publish loop and
// subscribes the command topics. On lost it cancels the generation, waits
// for both loops to exit, unsubscribes, and publishes connected=1 as the
// generation's last message.
//
// Discovery events are serialised per device id, so a found for an id that
// is still being retired waits until retirement completes. Different ids
// are independent. A lane goes away once it is idle and its device absent.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	topics   mqtt.Topics
	qos      byte
	pool     *Pool
	registry *Registry
	observer Observer
	logger   *logging.Logger

	lanes   map[string]*lane
	lanesMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewManager creates a Manager. Call Stop to release it.
func NewManager(opts ManagerOptions) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		topics:   opts.Topics,
		qos:      opts.QoS,
		pool:     opts.Pool,
		registry: NewRegistry(),
		observer: opts.Observer,
		logger:   opts.Logger,
		lanes:    make(map[string]*lane),
		ctx:      ctx,
		cancel:   cancel,
	}
	if m.observer == nil {
		m.observer = NopObserver{}
	}
	m.pool.observe(m.observer)
	if m.logger == nil {
		m.logger = logging.Nop()
	}
	m.logger = m.logger.With("component", "bridge")
	return m
}

// Found queues a found event for dev. It returns once the event is queued.
func (m *Manager) Found(dev Device) {
	m.enqueue(laneEvent{deviceID: dev.ID(), device: dev})
}

// Lost queues a lost event for deviceID.
func (m *Manager) Lost(deviceID string) {
	m.enqueue(laneEvent{deviceID: deviceID})
}

// Present lists the devices with an active generation.
func (m *Manager) Present() []Presence {
	return m.registry.Snapshot()
}

func (m *Manager) enqueue(ev laneEvent) {
	m.lanesMu.Lock()
	if m.ctx.Err() != nil {
		m.lanesMu.Unlock()
		return
	}
	l, ok := m.lanes[ev.deviceID]
	if !ok {
		l = &lane{events: make(chan laneEvent, laneQueueSize)}
		m.lanes[ev.deviceID] = l
		m.wg.Add(1)
		go m.runLane(ev.deviceID, l)
	}
	l.pending++
	m.lanesMu.Unlock()

	select {
	case l.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Manager) runLane(deviceID string, l *lane) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-l.events:
			m.handle(ev)
			if m.releaseLane(deviceID, l) {
				return
			}
		}
	}
}

// releaseLane accounts for one handled event and removes the lane when
// nothing is queued and the device is absent. It reports whether it did.
func (m *Manager) releaseLane(deviceID string, l *lane) bool {
	m.lanesMu.Lock()
	defer m.lanesMu.Unlock()
	l.pending--
	if l.pending > 0 {
		return false
	}
	if _, present := m.registry.get(deviceID); present {
		return false
	}
	delete(m.lanes, deviceID)
	return true
}

func (m *Manager) handle(ev laneEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle panic recovered", "device_id", ev.deviceID, "panic", r)
		}
	}()

	if ev.device != nil {
		err := m.Activate(ev.device)
		switch {
		case errors.Is(err, ErrGenerationActive):
			m.logger.Warn("device found while already present", "device_id", ev.deviceID)
		case err != nil:
			m.logger.Error("activating device", "device_id", ev.deviceID, "error", err)
		}
		return
	}

	if err := m.Retire(ev.deviceID); err != nil {
		m.logger.Debug("lost event ignored", "device_id", ev.deviceID, "error", err)
	}
}

// Activate starts a new generation for dev synchronously.
//
// Most callers use Found, which serialises events per id.
//
// Returns:
//   - ErrGenerationActive if dev's id already has a generation
//   - ErrStopped after Stop
//   - a wrapped pool error if no connection could be created
func (m *Manager) Activate(dev Device) error {
	if m.ctx.Err() != nil {
		return ErrStopped
	}
	id := dev.ID()

	conn, err := m.pool.Get(id)
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithCancel(m.ctx)
	g := &generation{
		id:      uuid.NewString(),
		device:  dev,
		conn:    conn,
		since:   time.Now().UTC(),
		cancel:  cancel,
		done:    make(chan struct{}),
		retired: make(chan struct{}),
	}
	if err := m.registry.insert(g); err != nil {
		cancel()
		return fmt.Errorf("%s: %w", id, err)
	}
	log := m.logger.Device(id, g.id)

	// connected=2 goes out before anything the composer produces
	m.publishConnected(genCtx, g, mqtt.ConnectedDevice, log)

	composer := newComposer(m.topics, dev)
	records := composer.Stream(genCtx)

	g.dispatcher = newDispatcher(m.topics, m.qos, dev, conn, composer, m.observer, log)
	if err := g.dispatcher.Subscribe(genCtx); err != nil {
		log.Warn("subscribing command topics", "error", err)
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		m.safely(log, "publish loop", func() { m.pump(genCtx, g, records, log) })
	}()
	go func() {
		defer loops.Done()
		m.safely(log, "dispatch loop", func() { g.dispatcher.Run(genCtx) })
	}()
	go func() {
		loops.Wait()
		composer.Wait()
		close(g.done)
	}()

	m.observer.GenerationStarted(g.presence())
	log.Info("device present", "name", dev.Name())
	return nil
}

// Retire ends the generation for deviceID synchronously and publishes
// connected=1. Only one caller retires a given generation: retiring an
// absent device, or one another caller is already retiring, returns
// ErrNotPresent and has no other effect.
func (m *Manager) Retire(deviceID string) error {
	g, ok := m.registry.claim(deviceID)
	if !ok {
		return ErrNotPresent
	}
	m.retire(g, true, EndReasonLost)
	return nil
}

// retire cancels g, waits for its loops, unsubscribes, and optionally
// announces connected=1. g must have been claimed by the caller.
func (m *Manager) retire(g *generation, announce bool, reason string) {
	defer close(g.retired)
	log := m.logger.Device(g.device.ID(), g.id)

	g.cancel()
	<-g.done

	if err := g.dispatcher.Unsubscribe(); err != nil {
		log.Warn("unsubscribing command topics", "error", err)
	}

	if announce {
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		m.publishConnected(ctx, g, mqtt.ConnectedBus, log)
		cancel()
	}

	m.registry.remove(g)
	m.observer.GenerationEnded(g.presence(), reason)
	log.Info("device retired", "reason", reason)
}

// pump publishes records until the stream ends. Nothing is published once
// ctx is cancelled.
func (m *Manager) pump(ctx context.Context, g *generation, records <-chan Record, log *logging.Logger) {
	id := g.device.ID()
	for rec := range records {
		if ctx.Err() != nil {
			return
		}
		err := g.conn.Publish(ctx, rec.Topic, rec.Payload, m.qos, rec.Retain)
		if rec.ack != nil {
			close(rec.ack)
		}
		m.observer.Published(id, rec.Suffix, rec.Payload, err)
		if err != nil {
			log.Warn("publishing status", "topic", rec.Topic, "error", err)
		}
	}
}

func (m *Manager) publishConnected(ctx context.Context, g *generation, state string, log *logging.Logger) {
	id := g.device.ID()
	payload := []byte(state)
	err := g.conn.Publish(ctx, m.topics.Connected(id), payload, m.qos, true)
	m.observer.Published(id, mqtt.SuffixConnected, payload, err)
	if err != nil {
		log.Warn("publishing connected status", "state", state, "error", err)
	}
}

func (m *Manager) safely(log *logging.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("goroutine panic recovered", "loop", name, "panic", r)
		}
	}()
	fn()
}

// Stop shuts the bridge down.
//
// Lanes are stopped, every present generation is retired without
// publishing connected=1, and the pool publishes connected=0 on every
// connection before disconnecting. ctx bounds those final publishes.
// Stop is idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.lanesMu.Lock()
		m.cancel()
		m.lanesMu.Unlock()
		m.wg.Wait()

		claimed, pending := m.registry.claimAll()
		for _, g := range claimed {
			m.retire(g, false, EndReasonShutdown)
		}
		// retirements started by Retire callers finish before the pool closes
		for _, g := range pending {
			<-g.retired
		}

		m.stopErr = m.pool.Close(ctx)
	})
	return m.stopErr
}
