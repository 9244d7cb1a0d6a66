package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

// commandQueueSize bounds commands waiting for the device.
const commandQueueSize = 64

// command is one message received on a command topic.
type command struct {
	suffix  mqtt.Suffix
	payload []byte
}

// Dispatcher turns messages on a device's five command topics into device calls.
//
// Subscription handlers only enqueue. Run executes commands one at a time in
// arrival order, so the transport's delivery goroutine never waits on the DVR.
// Payloads are forwarded without validation.
type Dispatcher struct {
	topics   mqtt.Topics
	qos      byte
	device   Device
	conn     Conn
	composer *Composer
	observer Observer
	logger   *logging.Logger

	queue chan command
}

func newDispatcher(topics mqtt.Topics, qos byte, device Device, conn Conn, composer *Composer, observer Observer, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		topics:   topics,
		qos:      qos,
		device:   device,
		conn:     conn,
		composer: composer,
		observer: observer,
		logger:   logger,
		queue:    make(chan command, commandQueueSize),
	}
}

// Subscribe subscribes to the command topics. Messages arriving after ctx
// ends are ignored.
func (d *Dispatcher) Subscribe(ctx context.Context) error {
	var errs []error
	for _, topic := range d.topics.Commands(d.device.ID()) {
		if err := d.conn.Subscribe(topic, d.qos, d.handler(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("subscribing %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe removes all five command subscriptions.
func (d *Dispatcher) Unsubscribe() error {
	var errs []error
	for _, topic := range d.topics.Commands(d.device.ID()) {
		if err := d.conn.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handler(ctx context.Context) mqtt.MessageHandler {
	id := d.device.ID()
	return func(topic string, payload []byte) error {
		if ctx.Err() != nil {
			return nil
		}
		suffix, ok := d.topics.CommandSuffix(id, topic)
		if !ok {
			return fmt.Errorf("unexpected topic %q", topic)
		}
		cmd := command{suffix: suffix, payload: append([]byte(nil), payload...)}
		select {
		case d.queue <- cmd:
			return nil
		default:
			return fmt.Errorf("command queue full, dropped %s", suffix)
		}
	}
}

// Run executes queued commands until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue:
			err := d.safeExecute(ctx, cmd)
			d.observer.CommandDispatched(d.device.ID(), cmd.suffix, err)
			if err != nil {
				// The device reports its own failures on the error stream
				d.logger.Debug("device command failed", "command", string(cmd.suffix), "error", err)
			}
		}
	}
}

// safeExecute runs one command, turning a panic in the device into an error.
func (d *Dispatcher) safeExecute(ctx context.Context, cmd command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device panic: %v", r)
			d.logger.Error("device command panic recovered", "command", string(cmd.suffix), "panic", r)
		}
	}()
	return d.execute(ctx, cmd)
}

func (d *Dispatcher) execute(ctx context.Context, cmd command) error {
	switch cmd.suffix {
	case mqtt.SuffixSetIRCode:
		return d.device.SendIRCode(ctx, string(cmd.payload))

	case mqtt.SuffixSetKeyboard:
		return d.device.SendKeyboardCode(ctx, string(cmd.payload))

	case mqtt.SuffixSetTeleport:
		target := string(cmd.payload)
		if strings.EqualFold(target, TeleportLiveTV) {
			if err := d.announceNotReady(ctx); err != nil {
				return err
			}
		}
		return d.device.Teleport(ctx, target)

	case mqtt.SuffixSetChannel, mqtt.SuffixSetForcedChannel:
		var req ChannelRequest
		// Malformed JSON leaves req partly or wholly zero; the device reports it
		_ = json.Unmarshal(cmd.payload, &req)
		return d.device.SetChannel(ctx, req, cmd.suffix == mqtt.SuffixSetForcedChannel)
	}
	return fmt.Errorf("unknown command %q", cmd.suffix)
}

// announceNotReady publishes livetv_ready=false and waits until it is on the bus.
func (d *Dispatcher) announceNotReady(ctx context.Context) error {
	ack, err := d.composer.AnnounceNotReady(ctx)
	if err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
