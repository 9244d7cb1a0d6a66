package tivo

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
)

// Default timeouts and sizes for the DVR connection.
const (
	// DefaultPort is the TiVo TCP remote-control port.
	DefaultPort = 31339

	// defaultConnectTimeout is the maximum time to wait for the TCP connect.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for writing one command.
	defaultWriteTimeout = 5 * time.Second

	// defaultEventBuffer is the capacity of each event channel.
	defaultEventBuffer = 32

	// maxLineLength bounds a single response line.
	maxLineLength = 1024
)

// Reasons reported on the error stream by the driver itself.
const (
	reasonInvalidChannel   = "invalid channel request"
	reasonConnectionClosed = "connection closed"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Config holds the settings for one DVR connection.
type Config struct {
	// ID is the device identity (TSN).
	ID string

	// Name is the human-readable DVR name.
	Name string

	// Address is host:port of the DVR remote-control service.
	Address string

	// ConnectTimeout bounds the TCP connect. Default: 10 seconds.
	ConnectTimeout time.Duration

	// EventBuffer is the capacity of each event channel. Default: 32.
	EventBuffer int
}

// Stats holds operational statistics.
type Stats struct {
	CommandsTx    uint64
	ResponsesRx   uint64
	EventsDropped uint64 // events dropped because a channel was full
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Device is a connected DVR speaking the TCP remote protocol.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Commands are written one at a time.
//
// The event channels are closed when the connection ends. Events that do
// not fit in a full channel are dropped and counted in Stats.
type Device struct {
	cfg  Config
	conn net.Conn

	writeMu sync.Mutex

	errs    chan bridge.ErrorEvent
	ready   chan bridge.LiveTVReadyEvent
	changes chan bridge.ChannelChangeEvent

	// eventsMu guards sends against the final close of the event channels.
	eventsMu     sync.Mutex
	eventsClosed bool

	// lastRequest is the most recent channel request, reported with CH_FAILED.
	lastRequest atomic.Pointer[bridge.ChannelRequest]

	done *closeOnce
	wg   sync.WaitGroup

	logger *logging.Logger

	commandsTx    atomic.Uint64
	responsesRx   atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64
}

// Ensure Device implements bridge.Device.
var _ bridge.Device = (*Device)(nil)

// Dial connects to a DVR and starts reading its responses.
//
// Parameters:
//   - ctx: Context for cancellation of the connect
//   - cfg: Connection configuration
//   - logger: Optional logger (nil discards)
//
// Returns:
//   - *Device: Connected device ready for use
//   - error: ErrConnectionFailed if the DVR cannot be reached
func Dial(ctx context.Context, cfg Config, logger *logging.Logger) (*Device, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if logger == nil {
		logger = logging.Nop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Address, err)
	}

	return newDevice(cfg, conn, logger), nil
}

// newDevice wraps an established connection.
func newDevice(cfg Config, conn net.Conn, logger *logging.Logger) *Device {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	d := &Device{
		cfg:     cfg,
		conn:    conn,
		errs:    make(chan bridge.ErrorEvent, cfg.EventBuffer),
		ready:   make(chan bridge.LiveTVReadyEvent, cfg.EventBuffer),
		changes: make(chan bridge.ChannelChangeEvent, cfg.EventBuffer),
		done:    newCloseOnce(),
		logger:  logger.With("component", "tivo", "device_id", cfg.ID, "address", cfg.Address),
	}
	d.lastActivity.Store(time.Now().Unix())

	d.wg.Add(1)
	go d.receiveLoop()

	return d
}

// ID returns the device identity.
func (d *Device) ID() string { return d.cfg.ID }

// Name returns the human-readable name.
func (d *Device) Name() string { return d.cfg.Name }

// Errors returns the error event stream.
func (d *Device) Errors() <-chan bridge.ErrorEvent { return d.errs }

// LiveTVReady returns the live-TV readiness stream.
func (d *Device) LiveTVReady() <-chan bridge.LiveTVReadyEvent { return d.ready }

// ChannelChanges returns the channel change stream.
func (d *Device) ChannelChanges() <-chan bridge.ChannelChangeEvent { return d.changes }

// Done is closed when the connection has ended.
func (d *Device) Done() <-chan struct{} { return d.done.Done() }

// SendIRCode sends an IR code name such as SELECT or NUM1, unvalidated.
func (d *Device) SendIRCode(ctx context.Context, code string) error {
	return d.send(ctx, encodeCommand(verbIRCode, code))
}

// SendKeyboardCode sends a keyboard code, unvalidated.
func (d *Device) SendKeyboardCode(ctx context.Context, code string) error {
	return d.send(ctx, encodeCommand(verbKeyboard, code))
}

// Teleport jumps to TIVO, LIVETV, GUIDE or NOWPLAYING. The target is sent as given.
func (d *Device) Teleport(ctx context.Context, target string) error {
	return d.send(ctx, encodeCommand(verbTeleport, target))
}

// SetChannel tunes to req. forced cancels an in-progress recording if needed.
//
// A non-positive channel is not sent; it is reported on the error stream.
func (d *Device) SetChannel(ctx context.Context, req bridge.ChannelRequest, forced bool) error {
	if req.Channel <= 0 {
		d.emitError(reasonInvalidChannel)
		return ErrInvalidChannel
	}
	d.lastRequest.Store(&req)
	return d.send(ctx, encodeChannel(req, forced))
}

// send writes one command line. Write failures are also reported on the error stream.
func (d *Device) send(ctx context.Context, line []byte) error {
	select {
	case <-d.done.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommandFailed, ctx.Err())
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrCommandFailed, err)
	}
	if _, err := d.conn.Write(line); err != nil {
		d.errorsTotal.Add(1)
		d.emitError("write failed: " + err.Error())
		return fmt.Errorf("%w: write: %w", ErrCommandFailed, err)
	}

	d.commandsTx.Add(1)
	d.lastActivity.Store(time.Now().Unix())
	d.logger.Debug("command sent", "command", strings.TrimSpace(string(line)))
	return nil
}

// receiveLoop reads responses until the connection ends, then closes the streams.
func (d *Device) receiveLoop() {
	defer d.wg.Done()
	defer d.finish()

	scanner := bufio.NewScanner(d.conn)
	scanner.Buffer(make([]byte, 0, maxLineLength), maxLineLength)
	scanner.Split(scanLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.responsesRx.Add(1)
		d.lastActivity.Store(time.Now().Unix())
		d.handleLine(line)
	}

	if err := scanner.Err(); err != nil && !d.isClosed() {
		d.logger.Warn("read failed", "error", err)
	}
}

func (d *Device) handleLine(line string) {
	resp, err := parseResponse(line)
	if err != nil {
		d.logger.Warn("unparseable response", "line", line, "error", err)
		return
	}

	switch resp.kind {
	case respChannelStatus:
		d.emitChannel(resp.channel)
	case respChannelFailed:
		d.emitError(resp.reason)
		ev := bridge.ChannelChangeEvent{Reason: strings.ToLower(resp.reason), Success: false}
		if last := d.lastRequest.Load(); last != nil {
			ev.Channel, ev.Subchannel = last.Channel, last.Subchannel
		}
		d.emitChannel(ev)
	case respLiveTVReady:
		d.emitReady(true)
	case respInvalidCommand, respMissingTeleport:
		d.emitError(resp.reason)
	default:
		d.logger.Debug("ignoring response", "line", line)
	}
}

// finish marks the connection ended and closes the event streams.
func (d *Device) finish() {
	if !d.isClosed() {
		d.emitError(reasonConnectionClosed)
	}
	d.done.Close()

	d.eventsMu.Lock()
	d.eventsClosed = true
	close(d.errs)
	close(d.ready)
	close(d.changes)
	d.eventsMu.Unlock()

	st := d.Stats()
	d.logger.Info("dvr connection ended",
		"commands_tx", st.CommandsTx,
		"responses_rx", st.ResponsesRx,
		"events_dropped", st.EventsDropped,
		"errors", st.ErrorsTotal,
	)
}

func (d *Device) emitError(reason string) {
	d.eventsMu.Lock()
	defer d.eventsMu.Unlock()
	if d.eventsClosed {
		return
	}
	select {
	case d.errs <- bridge.ErrorEvent{Reason: reason}:
	default:
		d.eventsDropped.Add(1)
	}
}

func (d *Device) emitReady(ready bool) {
	d.eventsMu.Lock()
	defer d.eventsMu.Unlock()
	if d.eventsClosed {
		return
	}
	select {
	case d.ready <- bridge.LiveTVReadyEvent{Ready: ready}:
	default:
		d.eventsDropped.Add(1)
	}
}

func (d *Device) emitChannel(ev bridge.ChannelChangeEvent) {
	d.eventsMu.Lock()
	defer d.eventsMu.Unlock()
	if d.eventsClosed {
		return
	}
	select {
	case d.changes <- ev:
	default:
		d.eventsDropped.Add(1)
	}
}

// isClosed reports whether Close was called or the connection ended.
func (d *Device) isClosed() bool {
	select {
	case <-d.done.Done():
		return true
	default:
		return false
	}
}

// Close ends the connection and waits for the reader to exit.
// Safe to call multiple times.
func (d *Device) Close() error {
	d.done.Close()
	err := d.conn.Close()
	d.wg.Wait()
	if err != nil && !isUseOfClosed(err) {
		return err
	}
	return nil
}

// Stats returns current operational statistics.
func (d *Device) Stats() Stats {
	return Stats{
		CommandsTx:    d.commandsTx.Load(),
		ResponsesRx:   d.responsesRx.Load(),
		EventsDropped: d.eventsDropped.Load(),
		ErrorsTotal:   d.errorsTotal.Load(),
		LastActivity:  time.Unix(d.lastActivity.Load(), 0),
		Connected:     !d.isClosed(),
	}
}

func isUseOfClosed(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
