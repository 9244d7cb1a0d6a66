package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

// dispatchHarness runs a dispatcher plus a minimal publish loop.
type dispatchHarness struct {
	dev  *fakeDevice
	conn *fakeConn
	obs  *recordingObserver
	d    *Dispatcher
}

func newDispatchHarness(t *testing.T) *dispatchHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &dispatchHarness{
		dev:  newFakeDevice("dvr1"),
		conn: newFakeConn("dvr1", mqtt.Will{}),
		obs:  &recordingObserver{},
	}
	composer := newComposer(testTopics, h.dev)
	records := composer.Stream(ctx)
	go func() {
		for rec := range records {
			_ = h.conn.Publish(ctx, rec.Topic, rec.Payload, 2, rec.Retain)
			if rec.ack != nil {
				close(rec.ack)
			}
		}
	}()

	h.d = newDispatcher(testTopics, 2, h.dev, h.conn, composer, h.obs, logging.Nop())
	require.NoError(t, h.d.Subscribe(ctx))
	go h.d.Run(ctx)
	return h
}

func (h *dispatchHarness) send(t *testing.T, suffix mqtt.Suffix, payload string) {
	t.Helper()
	require.True(t, h.conn.deliver(testTopics.Device("dvr1", suffix), payload), "no handler for %s", suffix)
}

func (h *dispatchHarness) waitCalls(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.dev.callLog()) >= n }, time.Second, 5*time.Millisecond)
	return h.dev.callLog()
}

func TestDispatcher_SubscribesFiveCommandTopics(t *testing.T) {
	h := newDispatchHarness(t)
	assert.Equal(t, 5, h.conn.subscriptionCount())
	for _, topic := range testTopics.Commands("dvr1") {
		h.conn.mu.Lock()
		_, ok := h.conn.handlers[topic]
		h.conn.mu.Unlock()
		assert.True(t, ok, "missing subscription %s", topic)
	}
}

func TestDispatcher_Commands(t *testing.T) {
	tests := []struct {
		name    string
		suffix  mqtt.Suffix
		payload string
		want    string
	}{
		{name: "ircode raw", suffix: mqtt.SuffixSetIRCode, payload: "SELECT", want: "ircode SELECT"},
		{name: "keyboard raw", suffix: mqtt.SuffixSetKeyboard, payload: "A", want: "keyboard A"},
		{name: "teleport guide", suffix: mqtt.SuffixSetTeleport, payload: "GUIDE", want: "teleport GUIDE"},
		{name: "channel", suffix: mqtt.SuffixSetChannel, payload: `{"channel":12,"subchannel":1}`, want: "setch 12 1 forced=false"},
		{name: "forced channel", suffix: mqtt.SuffixSetForcedChannel, payload: `{"channel":12,"subchannel":1}`, want: "setch 12 1 forced=true"},
		{name: "malformed channel forwarded", suffix: mqtt.SuffixSetChannel, payload: `not json`, want: "setch 0 0 forced=false"},
		{name: "unvalidated ircode forwarded", suffix: mqtt.SuffixSetIRCode, payload: "", want: "ircode "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDispatchHarness(t)
			h.send(t, tt.suffix, tt.payload)
			calls := h.waitCalls(t, 1)
			assert.Equal(t, []string{tt.want}, calls)
		})
	}
}

func TestDispatcher_TeleportLiveTVAnnouncesFirst(t *testing.T) {
	for _, payload := range []string{"LIVETV", "livetv"} {
		t.Run(payload, func(t *testing.T) {
			h := newDispatchHarness(t)

			var seenAtTeleport []pubMsg
			h.dev.mu.Lock()
			h.dev.onTeleport = func(string) { seenAtTeleport = h.conn.messages() }
			h.dev.mu.Unlock()

			h.send(t, mqtt.SuffixSetTeleport, payload)
			h.waitCalls(t, 1)

			require.Len(t, seenAtTeleport, 1, "livetv_ready=false must be published before teleport")
			assert.Equal(t, "tivoremote:dvr1/status/livetv_ready", seenAtTeleport[0].topic)
			assert.Equal(t, "false", seenAtTeleport[0].payload)
			assert.True(t, seenAtTeleport[0].retained)
		})
	}
}

func TestDispatcher_OtherTeleportsDoNotAnnounce(t *testing.T) {
	h := newDispatchHarness(t)
	h.send(t, mqtt.SuffixSetTeleport, "TIVO")
	h.waitCalls(t, 1)
	assert.Empty(t, h.conn.messages())
}

func TestDispatcher_CommandsRunInArrivalOrder(t *testing.T) {
	h := newDispatchHarness(t)
	codes := []string{"UP", "DOWN", "LEFT", "RIGHT", "SELECT"}
	for _, c := range codes {
		h.send(t, mqtt.SuffixSetIRCode, c)
	}
	calls := h.waitCalls(t, len(codes))
	for i, c := range codes {
		assert.Equal(t, "ircode "+c, calls[i])
	}
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	h := newDispatchHarness(t)
	h.dev.mu.Lock()
	h.dev.panicOn = "ircode BOOM"
	h.dev.mu.Unlock()

	h.send(t, mqtt.SuffixSetIRCode, "BOOM")
	h.send(t, mqtt.SuffixSetIRCode, "OK")

	calls := h.waitCalls(t, 2)
	assert.Equal(t, []string{"ircode BOOM", "ircode OK"}, calls)
}

func TestDispatcher_ObserverNotified(t *testing.T) {
	h := newDispatchHarness(t)
	h.send(t, mqtt.SuffixSetKeyboard, "B")
	h.waitCalls(t, 1)

	require.Eventually(t, func() bool {
		h.obs.mu.Lock()
		defer h.obs.mu.Unlock()
		return len(h.obs.commands) == 1
	}, time.Second, 5*time.Millisecond)
	h.obs.mu.Lock()
	defer h.obs.mu.Unlock()
	assert.Equal(t, mqtt.SuffixSetKeyboard, h.obs.commands[0])
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	h := newDispatchHarness(t)
	require.NoError(t, h.d.Unsubscribe())
	assert.Equal(t, 0, h.conn.subscriptionCount())
	assert.ElementsMatch(t, testTopics.Commands("dvr1"), h.conn.unsubscribed)
}

func TestDispatcher_IgnoresAfterCancel(t *testing.T) {
	dev := newFakeDevice("dvr1")
	conn := newFakeConn("dvr1", mqtt.Will{})
	ctx, cancel := context.WithCancel(context.Background())

	d := newDispatcher(testTopics, 2, dev, conn, newComposer(testTopics, dev), NopObserver{}, logging.Nop())
	require.NoError(t, d.Subscribe(ctx))
	cancel()

	conn.deliver(testTopics.Device("dvr1", mqtt.SuffixSetIRCode), "SELECT")
	assert.Len(t, d.queue, 0)
}
