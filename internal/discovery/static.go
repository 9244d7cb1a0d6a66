package discovery

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/tivo"
)

// Redial backoff bounds for static devices.
const (
	defaultRedialInitial = time.Second
	defaultRedialMax     = 60 * time.Second
)

// StaticConfig configures a StaticSource.
type StaticConfig struct {
	Devices        []config.StaticDevice
	DefaultPort    int
	ConnectTimeout time.Duration

	// RedialInitial and RedialMax bound the reconnect backoff.
	RedialInitial time.Duration
	RedialMax     time.Duration

	Dial   DialFunc
	Logger *logging.Logger
}

// StaticSource reports DVRs at fixed addresses, for networks without mDNS.
//
// Each device is dialled at start and announced Found once connected. When
// its connection drops it is announced Lost and redialled with backoff.
type StaticSource struct {
	cfg    StaticConfig
	logger *logging.Logger

	mu      sync.Mutex
	devices owned
	closed  bool
}

// NewStaticSource creates a static source. Nothing is dialled until Run.
func NewStaticSource(cfg StaticConfig) *StaticSource {
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = tivo.DefaultPort
	}
	if cfg.RedialInitial == 0 {
		cfg.RedialInitial = defaultRedialInitial
	}
	if cfg.RedialMax == 0 {
		cfg.RedialMax = defaultRedialMax
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Dial == nil {
		cfg.Dial = TiVoDialer(cfg.Logger)
	}
	return &StaticSource{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "discovery", "source", "static"),
		devices: newOwned(),
	}
}

// Run dials every configured device and watches its connection until ctx is cancelled.
func (s *StaticSource) Run(ctx context.Context, emit func(Event)) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSourceClosed
	}

	var wg sync.WaitGroup
	for _, d := range s.cfg.Devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watch(ctx, d, emit)
		}()
	}
	wg.Wait()
	return nil
}

// watch keeps one device connected, announcing each connection and each drop.
func (s *StaticSource) watch(ctx context.Context, d config.StaticDevice, emit func(Event)) {
	log := s.logger.With("device_id", d.ID)
	for {
		h, err := s.dial(ctx, d, log)
		if err != nil {
			return
		}
		if !s.track(d.ID, h) {
			h.Close()
			return
		}
		log.Info("static device connected", "name", d.Name)
		emit(Event{Kind: Found, DeviceID: d.ID, Device: h})

		select {
		case <-ctx.Done():
			return
		case <-h.Done():
		}
		if ctx.Err() != nil {
			return
		}

		log.Warn("static device connection dropped")
		s.untrack(d.ID, h)
		emit(Event{Kind: Lost, DeviceID: d.ID})
		h.Close()
	}
}

func (s *StaticSource) dial(ctx context.Context, d config.StaticDevice, log *logging.Logger) (Handle, error) {
	port := d.Port
	if port == 0 {
		port = s.cfg.DefaultPort
	}
	tcfg := tivo.Config{
		ID:             d.ID,
		Name:           d.Name,
		Address:        net.JoinHostPort(d.Host, strconv.Itoa(port)),
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
	if tcfg.Name == "" {
		tcfg.Name = d.ID
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RedialInitial
	bo.MaxInterval = s.cfg.RedialMax

	return backoff.Retry(ctx, func() (Handle, error) {
		return s.cfg.Dial(ctx, tcfg)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("static device unreachable", "address", tcfg.Address, "error", err, "retry_in", next)
		}),
	)
}

func (s *StaticSource) track(id string, h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.devices.devices[id] = h
	return true
}

func (s *StaticSource) untrack(id string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices.devices[id] == h {
		delete(s.devices.devices, id)
	}
}

// Close closes every connected device. Safe to call multiple times.
func (s *StaticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.devices.closeAll()
}
