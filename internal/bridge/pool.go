package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

// Conn is one bus connection as used by the bridge.
// *mqtt.Client satisfies it.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Close() error
}

// Dialer creates a connection for deviceID carrying the given last will.
// It must not wait for the broker.
type Dialer func(deviceID string, will mqtt.Will) (Conn, error)

// MQTTDialer returns a Dialer backed by mqtt.Connect.
// Client IDs are <bridge>-<8 hex chars>, unique per connection.
func MQTTDialer(cfg config.MQTTConfig, bridgeName string, logger *logging.Logger) Dialer {
	return func(deviceID string, will mqtt.Will) (Conn, error) {
		clientID := bridgeName + "-" + uuid.NewString()[:8]
		c, err := mqtt.Connect(cfg, mqtt.Options{ClientID: clientID, Will: &will})
		if err != nil {
			return nil, err
		}
		if logger != nil {
			c.SetLogger(logger.With("component", "mqtt", "device_id", deviceID, "client_id", clientID))
		}
		return c, nil
	}
}

// connNotifier is implemented by connections that report broker state.
// *mqtt.Client satisfies it.
type connNotifier interface {
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
}

// Pool caches one Conn per device id for the life of the process.
//
// Each connection is created on first use with a retained last will of
// "0" on the device's connected topic. There is no eviction. Broker state
// changes and the final offline publish are reported to the observer.
//
// Thread Safety: All methods are safe for concurrent use.
type Pool struct {
	topics mqtt.Topics
	qos    byte
	dial   Dialer

	mu       sync.Mutex
	conns    map[string]Conn
	closed   bool
	observer Observer
}

// NewPool creates an empty pool.
func NewPool(topics mqtt.Topics, qos byte, dial Dialer) *Pool {
	return &Pool{
		topics:   topics,
		qos:      qos,
		dial:     dial,
		conns:    make(map[string]Conn),
		observer: NopObserver{},
	}
}

// observe routes pool notifications to o. Connections created earlier keep
// reporting to the previous observer.
func (p *Pool) observe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// Get returns the connection for deviceID, creating it on first call.
func (p *Pool) Get(deviceID string) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if c, ok := p.conns[deviceID]; ok {
		return c, nil
	}

	// Dialers return without waiting for the broker, so holding the lock is cheap
	c, err := p.dial(deviceID, mqtt.Will{
		Topic:    p.topics.Connected(deviceID),
		Payload:  mqtt.ConnectedNone,
		QoS:      p.qos,
		Retained: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating connection for %s: %w", deviceID, err)
	}
	if n, ok := c.(connNotifier); ok {
		obs := p.observer
		n.SetOnConnect(func() { obs.BrokerConnection(deviceID, true) })
		n.SetOnDisconnect(func(error) { obs.BrokerConnection(deviceID, false) })
		// the first connect may have completed before the callbacks were set
		obs.BrokerConnection(deviceID, n.IsConnected())
	}
	p.conns[deviceID] = c
	return c, nil
}

// Close publishes connected=0 on every connection and disconnects it.
//
// This is the graceful counterpart of the last will. After Close, Get
// returns ErrPoolClosed. Closing twice is a no-op.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	obs := p.observer
	p.conns = make(map[string]Conn)
	p.mu.Unlock()

	payload := []byte(mqtt.ConnectedNone)
	var errs []error
	for id, c := range conns {
		err := c.Publish(ctx, p.topics.Connected(id), payload, p.qos, true)
		obs.Published(id, mqtt.SuffixConnected, payload, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("publishing offline status for %s: %w", id, err))
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing connection for %s: %w", id, err))
		}
		// a clean disconnect does not fire the connection-lost callback
		obs.BrokerConnection(id, false)
	}
	return errors.Join(errs...)
}

// healthChecker is implemented by connections that can report liveness.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck checks every cached connection that supports it.
// An empty pool is healthy.
func (p *Pool) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	conns := make(map[string]Conn, len(p.conns))
	for id, c := range p.conns {
		conns[id] = c
	}
	p.mu.Unlock()

	var errs []error
	for id, c := range conns {
		hc, ok := c.(healthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
