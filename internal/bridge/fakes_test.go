package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

var testTopics = mqtt.Topics{Bridge: "tivoremote"}

// pubMsg is one message published through a fakeConn.
type pubMsg struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

// fakeConn is an in-memory Conn.
type fakeConn struct {
	deviceID string
	will     mqtt.Will

	mu           sync.Mutex
	published    []pubMsg
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	closed       bool
	publishErr   error
	healthErr    error
	onConnect    func()
	onDisconnect func(error)
	online       bool
	unsubDelay   time.Duration
}

func newFakeConn(deviceID string, will mqtt.Will) *fakeConn {
	return &fakeConn{deviceID: deviceID, will: will, handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeConn) Publish(_ context.Context, topic string, payload []byte, qos byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, pubMsg{topic: topic, payload: string(payload), qos: qos, retained: retained})
	return nil
}

func (c *fakeConn) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeConn) Unsubscribe(topic string) error {
	c.mu.Lock()
	delay := c.unsubDelay
	c.mu.Unlock()
	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	c.unsubscribed = append(c.unsubscribed, topic)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetOnConnect(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = callback
}

func (c *fakeConn) SetOnDisconnect(callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = callback
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// setBrokerState fires the registered connect or disconnect callback.
func (c *fakeConn) setBrokerState(up bool) {
	c.mu.Lock()
	c.online = up
	onConnect, onDisconnect := c.onConnect, c.onDisconnect
	c.mu.Unlock()
	if up && onConnect != nil {
		onConnect()
	}
	if !up && onDisconnect != nil {
		onDisconnect(fmt.Errorf("connection reset"))
	}
}

func (c *fakeConn) HealthCheck(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthErr
}

// deliver simulates an inbound message. It reports whether a handler existed.
func (c *fakeConn) deliver(topic, payload string) bool {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	_ = h(topic, []byte(payload))
	return true
}

func (c *fakeConn) messages() []pubMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pubMsg(nil), c.published...)
}

func (c *fakeConn) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// fakeDialer creates fakeConns and remembers them.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string]*fakeConn)}
}

func (d *fakeDialer) dial(deviceID string, will mqtt.Will) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	c := newFakeConn(deviceID, will)
	d.conns[deviceID] = c
	return c, nil
}

func (d *fakeDialer) conn(deviceID string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[deviceID]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeDevice is an in-memory Device recording every call.
type fakeDevice struct {
	id   string
	name string

	errs    chan ErrorEvent
	ready   chan LiveTVReadyEvent
	changes chan ChannelChangeEvent

	mu         sync.Mutex
	calls      []string
	onTeleport func(target string)
	panicOn    string
}

func newFakeDevice(id string) *fakeDevice {
	return &fakeDevice{
		id:      id,
		name:    "DVR " + id,
		errs:    make(chan ErrorEvent, 16),
		ready:   make(chan LiveTVReadyEvent, 16),
		changes: make(chan ChannelChangeEvent, 16),
	}
}

func (d *fakeDevice) ID() string   { return d.id }
func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	panicOn := d.panicOn
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	if panicOn != "" && panicOn == call {
		panic("fake device failure")
	}
}

func (d *fakeDevice) SendIRCode(_ context.Context, code string) error {
	d.record("ircode " + code)
	return nil
}

func (d *fakeDevice) SendKeyboardCode(_ context.Context, code string) error {
	d.record("keyboard " + code)
	return nil
}

func (d *fakeDevice) Teleport(_ context.Context, target string) error {
	d.mu.Lock()
	hook := d.onTeleport
	d.mu.Unlock()
	if hook != nil {
		hook(target)
	}
	d.record("teleport " + target)
	return nil
}

func (d *fakeDevice) SetChannel(_ context.Context, req ChannelRequest, forced bool) error {
	d.record(fmt.Sprintf("setch %d %d forced=%v", req.Channel, req.Subchannel, forced))
	return nil
}

func (d *fakeDevice) Errors() <-chan ErrorEvent                 { return d.errs }
func (d *fakeDevice) LiveTVReady() <-chan LiveTVReadyEvent      { return d.ready }
func (d *fakeDevice) ChannelChanges() <-chan ChannelChangeEvent { return d.changes }

func (d *fakeDevice) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// recordingObserver captures observer calls.
type recordingObserver struct {
	NopObserver

	mu        sync.Mutex
	started   []Presence
	ended     []string
	commands  []mqtt.Suffix
	published []string
	broker    []string
}

func (o *recordingObserver) Published(deviceID string, suffix mqtt.Suffix, payload []byte, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := deviceID + " " + string(suffix) + "=" + string(payload)
	if err != nil {
		entry += " failed"
	}
	o.published = append(o.published, entry)
}

func (o *recordingObserver) BrokerConnection(deviceID string, connected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broker = append(o.broker, fmt.Sprintf("%s:%v", deviceID, connected))
}

func (o *recordingObserver) publishedCount(entry string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.published {
		if e == entry {
			n++
		}
	}
	return n
}

func (o *recordingObserver) GenerationStarted(p Presence) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, p)
}

func (o *recordingObserver) GenerationEnded(p Presence, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, p.DeviceID+":"+reason)
}

func (o *recordingObserver) CommandDispatched(_ string, suffix mqtt.Suffix, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, suffix)
}
