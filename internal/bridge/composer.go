package bridge

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

// Record is one outgoing status message.
type Record struct {
	Suffix  mqtt.Suffix
	Topic   string
	Payload []byte
	Retain  bool

	// ack, when set, is closed after the record has been handed to the bus.
	ack chan struct{}
}

// source tags where an event came from.
type source int

const (
	sourceError source = iota
	sourceLiveTV
	sourceChannel
)

// tagged is an event on the composer's single inbound channel.
type tagged struct {
	source  source
	err     ErrorEvent
	ready   LiveTVReadyEvent
	channel ChannelChangeEvent
	ack     chan struct{}
}

// channelStatus is the published form of a channel change; Success is dropped.
type channelStatus struct {
	Channel    int    `json:"channel"`
	Subchannel int    `json:"subchannel"`
	Reason     string `json:"reason"`
}

// Composer merges one device's event streams into a single record stream.
//
// Each source is forwarded by its own goroutine into one inbound channel,
// so per-source order is kept and sources interleave in arrival order.
// A single loop maps inbound events to records.
//
// A Composer serves one generation and cannot be restarted.
type Composer struct {
	topics mqtt.Topics
	device Device
	in     chan tagged

	wg sync.WaitGroup
}

func newComposer(topics mqtt.Topics, device Device) *Composer {
	return &Composer{
		topics: topics,
		device: device,
		in:     make(chan tagged),
	}
}

// Stream starts the fan-in and returns the record stream.
// The stream is closed after ctx is cancelled.
func (c *Composer) Stream(ctx context.Context) <-chan Record {
	out := make(chan Record)

	c.wg.Add(4)
	go func() {
		defer c.wg.Done()
		forward(ctx, c.device.Errors(), c.in, func(e ErrorEvent) tagged {
			return tagged{source: sourceError, err: e}
		})
	}()
	go func() {
		defer c.wg.Done()
		forward(ctx, c.device.LiveTVReady(), c.in, func(e LiveTVReadyEvent) tagged {
			return tagged{source: sourceLiveTV, ready: e}
		})
	}()
	go func() {
		defer c.wg.Done()
		forward(ctx, c.device.ChannelChanges(), c.in, func(e ChannelChangeEvent) tagged {
			return tagged{source: sourceChannel, channel: e}
		})
	}()
	go func() {
		defer c.wg.Done()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-c.in:
				rec, ok := c.record(ev)
				if !ok {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Wait blocks until every goroutine started by Stream has exited.
func (c *Composer) Wait() {
	c.wg.Wait()
}

// AnnounceNotReady injects a synthetic live-TV-not-ready event.
//
// The returned channel is closed once the resulting record has been
// handed to the bus. It is never closed if ctx ends first.
func (c *Composer) AnnounceNotReady(ctx context.Context) (<-chan struct{}, error) {
	ack := make(chan struct{})
	select {
	case c.in <- tagged{source: sourceLiveTV, ready: LiveTVReadyEvent{Ready: false}, ack: ack}:
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Composer) record(ev tagged) (Record, bool) {
	id := c.device.ID()
	switch ev.source {
	case sourceError:
		return Record{
			Suffix:  mqtt.SuffixStatusError,
			Topic:   c.topics.Device(id, mqtt.SuffixStatusError),
			Payload: []byte(ev.err.Reason),
			Retain:  true,
		}, true
	case sourceLiveTV:
		return Record{
			Suffix:  mqtt.SuffixStatusLiveTVReady,
			Topic:   c.topics.Device(id, mqtt.SuffixStatusLiveTVReady),
			Payload: []byte(strconv.FormatBool(ev.ready.Ready)),
			Retain:  true,
			ack:     ev.ack,
		}, true
	case sourceChannel:
		payload, err := json.Marshal(channelStatus{
			Channel:    ev.channel.Channel,
			Subchannel: ev.channel.Subchannel,
			Reason:     ev.channel.Reason,
		})
		if err != nil {
			return Record{}, false
		}
		return Record{
			Suffix:  mqtt.SuffixStatusChannel,
			Topic:   c.topics.Device(id, mqtt.SuffixStatusChannel),
			Payload: payload,
			Retain:  true,
		}, true
	}
	return Record{}, false
}

// forward copies events from src into dst until src closes or ctx ends.
func forward[E any](ctx context.Context, src <-chan E, dst chan<- tagged, wrap func(E) tagged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- wrap(ev):
			case <-ctx.Done():
				return
			}
		}
	}
}
