package tivo

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
)

// fakeDVR accepts a single connection and records the command lines it receives.
type fakeDVR struct {
	ln    net.Listener
	conn  chan net.Conn
	lines chan string
}

func newFakeDVR(t *testing.T) *fakeDVR {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeDVR{ln: ln, conn: make(chan net.Conn, 1), lines: make(chan string, 16)}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		f.conn <- c
		scanner := bufio.NewScanner(c)
		scanner.Split(scanLines)
		for scanner.Scan() {
			f.lines <- scanner.Text()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeDVR) addr() string { return f.ln.Addr().String() }

func (f *fakeDVR) accepted(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-f.conn:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("DVR never accepted a connection")
		return nil
	}
}

func (f *fakeDVR) expectLine(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.lines:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("DVR never received %q", want)
	}
}

func dialFake(t *testing.T, f *fakeDVR) (*Device, net.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dev, err := Dial(ctx, Config{ID: "746000190000001", Name: "Lounge", Address: f.addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, f.accepted(t)
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), Config{ID: "x", Address: addr, ConnectTimeout: time.Second}, nil)
	assert.True(t, errors.Is(err, ErrConnectionFailed), "got %v", err)
}

func TestDevice_Identity(t *testing.T) {
	dev, _ := dialFake(t, newFakeDVR(t))
	assert.Equal(t, "746000190000001", dev.ID())
	assert.Equal(t, "Lounge", dev.Name())
}

func TestDevice_Commands(t *testing.T) {
	f := newFakeDVR(t)
	dev, _ := dialFake(t, f)
	ctx := context.Background()

	require.NoError(t, dev.SendIRCode(ctx, "SELECT"))
	f.expectLine(t, "IRCODE SELECT")

	require.NoError(t, dev.SendKeyboardCode(ctx, "A"))
	f.expectLine(t, "KEYBOARD A")

	require.NoError(t, dev.Teleport(ctx, "GUIDE"))
	f.expectLine(t, "TELEPORT GUIDE")

	require.NoError(t, dev.SetChannel(ctx, bridge.ChannelRequest{Channel: 5, Subchannel: 2}, false))
	f.expectLine(t, "SETCH 5 2")

	require.NoError(t, dev.SetChannel(ctx, bridge.ChannelRequest{Channel: 7}, true))
	f.expectLine(t, "FORCECH 7")

	assert.Equal(t, uint64(5), dev.Stats().CommandsTx)
}

func TestDevice_InvalidChannelReportsError(t *testing.T) {
	dev, _ := dialFake(t, newFakeDVR(t))

	err := dev.SetChannel(context.Background(), bridge.ChannelRequest{}, false)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	select {
	case ev := <-dev.Errors():
		assert.Equal(t, reasonInvalidChannel, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}

func TestDevice_Events(t *testing.T) {
	dev, conn := dialFake(t, newFakeDVR(t))

	_, err := conn.Write([]byte("CH_STATUS 0005 0002 LOCAL\rLIVETV_READY\rINVALID_COMMAND\r"))
	require.NoError(t, err)

	select {
	case ev := <-dev.ChannelChanges():
		assert.Equal(t, bridge.ChannelChangeEvent{Channel: 5, Subchannel: 2, Reason: "local", Success: true}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no channel event")
	}
	select {
	case ev := <-dev.LiveTVReady():
		assert.True(t, ev.Ready)
	case <-time.After(2 * time.Second):
		t.Fatal("no live tv event")
	}
	select {
	case ev := <-dev.Errors():
		assert.Equal(t, respInvalidCommand, ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestDevice_ChannelFailedUsesLastRequest(t *testing.T) {
	f := newFakeDVR(t)
	dev, conn := dialFake(t, f)

	require.NoError(t, dev.SetChannel(context.Background(), bridge.ChannelRequest{Channel: 9}, false))
	f.expectLine(t, "SETCH 9")

	_, err := conn.Write([]byte("CH_FAILED NO_LIVE\r"))
	require.NoError(t, err)

	select {
	case ev := <-dev.Errors():
		assert.Equal(t, "NO_LIVE", ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
	select {
	case ev := <-dev.ChannelChanges():
		assert.Equal(t, bridge.ChannelChangeEvent{Channel: 9, Reason: "no_live", Success: false}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no channel event")
	}
}

func TestDevice_RemoteCloseEndsStreams(t *testing.T) {
	dev, conn := dialFake(t, newFakeDVR(t))
	conn.Close()

	select {
	case <-dev.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("device not done after remote close")
	}

	ev, ok := <-dev.Errors()
	require.True(t, ok)
	assert.Equal(t, reasonConnectionClosed, ev.Reason)

	_, ok = <-dev.Errors()
	assert.False(t, ok, "errors channel should be closed")
	_, ok = <-dev.LiveTVReady()
	assert.False(t, ok)
	_, ok = <-dev.ChannelChanges()
	assert.False(t, ok)

	assert.ErrorIs(t, dev.SendIRCode(context.Background(), "SELECT"), ErrNotConnected)
	assert.False(t, dev.Stats().Connected)
}

func TestDevice_CloseIsQuietAndIdempotent(t *testing.T) {
	dev, _ := dialFake(t, newFakeDVR(t))

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	_, ok := <-dev.Errors()
	assert.False(t, ok, "deliberate close should not report an error")
}

func TestDevice_FullChannelDropsEvents(t *testing.T) {
	f := newFakeDVR(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dev, err := Dial(ctx, Config{ID: "x", Address: f.addr(), EventBuffer: 1}, nil)
	require.NoError(t, err)
	defer dev.Close()
	conn := f.accepted(t)

	_, err = conn.Write([]byte("LIVETV_READY\rLIVETV_READY\rLIVETV_READY\r"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return dev.Stats().EventsDropped == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(3), dev.Stats().ResponsesRx)
}
