package discovery

import (
	"context"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/tivo"
)

// mDNS defaults.
const (
	DefaultService = "_tivo-remote._tcp"
	DefaultDomain  = "local."

	// tsnKey is the TXT key carrying the DVR serial number.
	tsnKey = "tsn"
)

// service is one browse result, decoupled from the zeroconf types.
type service struct {
	Instance string
	Port     int
	Text     []string
	Addrs    []string
}

// browseFunc reports services until ctx is cancelled.
type browseFunc func(ctx context.Context, found, removed chan<- service) error

// MDNSConfig configures an MDNSSource.
type MDNSConfig struct {
	Service        string
	Domain         string
	Interface      string
	ConnectTimeout time.Duration

	Dial   DialFunc
	Logger *logging.Logger
}

// MDNSSource reports DVRs advertising the remote-control service over mDNS.
//
// The device id is the TXT "TSN" value, falling back to the instance name.
// A new instance is dialled before it is announced; a failed dial is logged
// and nothing is emitted. Lost is emitted when the last address of an
// instance is withdrawn or when its connection drops.
type MDNSSource struct {
	cfg    MDNSConfig
	browse browseFunc
	logger *logging.Logger

	mu      sync.Mutex
	devices owned
	closed  bool
}

// NewMDNSSource creates an mDNS source.
func NewMDNSSource(cfg MDNSConfig) *MDNSSource {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Dial == nil {
		cfg.Dial = TiVoDialer(cfg.Logger)
	}
	logger := cfg.Logger.With("component", "discovery", "source", "mdns")
	return &MDNSSource{
		cfg:     cfg,
		browse:  zeroconfBrowse(cfg.Service, cfg.Domain, cfg.Interface, logger),
		logger:  logger,
		devices: newOwned(),
	}
}

// instance is the browse state of one advertised service.
type instance struct {
	id     string
	name   string
	addrs  []string
	handle Handle
}

type dialResult struct {
	instance string
	handle   Handle
	err      error
}

type drop struct {
	instance string
	handle   Handle
}

// Run browses until ctx is cancelled.
func (s *MDNSSource) Run(ctx context.Context, emit func(Event)) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSourceClosed
	}

	found := make(chan service)
	removed := make(chan service)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- s.browse(ctx, found, removed)
	}()

	results := make(chan dialResult)
	drops := make(chan drop)
	instances := make(map[string]*instance)

	s.logger.Info("browsing for DVRs", "service", s.cfg.Service, "domain", s.cfg.Domain)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-browseErr:
			if err != nil {
				return err
			}
			browseErr = nil

		case svc := <-found:
			if inst, ok := instances[svc.Instance]; ok {
				inst.addrs = mergeAddrs(inst.addrs, svc.Addrs)
				continue
			}
			addr, ok := dialAddress(svc)
			if !ok {
				s.logger.Warn("ignoring service", "instance", svc.Instance, "error", ErrNoAddress)
				continue
			}
			inst := &instance{id: deviceID(svc), name: svc.Instance, addrs: svc.Addrs}
			instances[svc.Instance] = inst
			go s.dial(ctx, svc.Instance, tivo.Config{
				ID:             inst.id,
				Name:           inst.name,
				Address:        addr,
				ConnectTimeout: s.cfg.ConnectTimeout,
			}, results)

		case res := <-results:
			inst, ok := instances[res.instance]
			if !ok || inst.handle != nil {
				if res.handle != nil {
					res.handle.Close()
				}
				continue
			}
			if res.err != nil {
				s.logger.Warn("dvr unreachable", "instance", res.instance, "device_id", inst.id, "error", res.err)
				delete(instances, res.instance)
				continue
			}
			if !s.track(inst.id, res.handle) {
				res.handle.Close()
				return ErrSourceClosed
			}
			inst.handle = res.handle
			s.logger.Info("dvr found", "instance", res.instance, "device_id", inst.id)
			emit(Event{Kind: Found, DeviceID: inst.id, Device: res.handle})
			go watchDrop(ctx, res.instance, res.handle, drops)

		case svc := <-removed:
			inst, ok := instances[svc.Instance]
			if !ok {
				continue
			}
			if len(svc.Addrs) > 0 {
				inst.addrs = removeAddrs(inst.addrs, svc.Addrs)
				if len(inst.addrs) > 0 {
					continue
				}
			}
			delete(instances, svc.Instance)
			s.release(inst, "withdrawn", emit)

		case d := <-drops:
			inst, ok := instances[d.instance]
			if !ok || inst.handle != d.handle {
				continue
			}
			delete(instances, d.instance)
			s.release(inst, "connection dropped", emit)
		}
	}
}

func (s *MDNSSource) dial(ctx context.Context, name string, cfg tivo.Config, results chan<- dialResult) {
	h, err := s.cfg.Dial(ctx, cfg)
	select {
	case results <- dialResult{instance: name, handle: h, err: err}:
	case <-ctx.Done():
		if h != nil {
			h.Close()
		}
	}
}

// release announces Lost for an instance that had a live connection.
func (s *MDNSSource) release(inst *instance, why string, emit func(Event)) {
	if inst.handle == nil {
		return
	}
	s.logger.Info("dvr lost", "device_id", inst.id, "reason", why)
	s.untrack(inst.id, inst.handle)
	emit(Event{Kind: Lost, DeviceID: inst.id})
	inst.handle.Close()
}

func watchDrop(ctx context.Context, name string, h Handle, drops chan<- drop) {
	select {
	case <-ctx.Done():
		return
	case <-h.Done():
	}
	select {
	case drops <- drop{instance: name, handle: h}:
	case <-ctx.Done():
	}
}

func (s *MDNSSource) track(id string, h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.devices.devices[id] = h
	return true
}

func (s *MDNSSource) untrack(id string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices.devices[id] == h {
		delete(s.devices.devices, id)
	}
}

// Close closes every connected device. Safe to call multiple times.
func (s *MDNSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.devices.closeAll()
}

// deviceID returns the TSN from the TXT record, or the instance name.
func deviceID(svc service) string {
	for _, kv := range svc.Text {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(k, tsnKey) && v != "" {
			return v
		}
	}
	return svc.Instance
}

// dialAddress prefers IPv4 and falls back to the first address.
func dialAddress(svc service) (string, bool) {
	if len(svc.Addrs) == 0 {
		return "", false
	}
	host := svc.Addrs[0]
	for _, a := range svc.Addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			host = a
			break
		}
	}
	port := svc.Port
	if port == 0 {
		port = tivo.DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), true
}

func mergeAddrs(have, add []string) []string {
	for _, a := range add {
		if !slices.Contains(have, a) {
			have = append(have, a)
		}
	}
	return have
}

func removeAddrs(have, drop []string) []string {
	return slices.DeleteFunc(have, func(a string) bool {
		return slices.Contains(drop, a)
	})
}

// zeroconfBrowse adapts zeroconf.Browse to browseFunc.
func zeroconfBrowse(serviceType, domain, iface string, logger *logging.Logger) browseFunc {
	return func(ctx context.Context, found, removed chan<- service) error {
		var opts []zeroconf.ClientOption
		if iface != "" {
			ifi, err := net.InterfaceByName(iface)
			if err != nil {
				logger.Warn("mdns interface not found, browsing all", "interface", iface, "error", err)
			} else {
				opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*ifi}))
			}
		}

		entries := make(chan *zeroconf.ServiceEntry)
		gone := make(chan *zeroconf.ServiceEntry)
		browseErr := make(chan error, 1)
		go func() {
			browseErr <- zeroconf.Browse(ctx, serviceType, domain, entries, gone, opts...)
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-browseErr:
				if err != nil {
					return err
				}
				browseErr = nil
			case e, ok := <-entries:
				if !ok {
					entries = nil
					continue
				}
				if !send(ctx, found, fromEntry(e)) {
					return nil
				}
			case e, ok := <-gone:
				if !ok {
					gone = nil
					continue
				}
				if !send(ctx, removed, fromEntry(e)) {
					return nil
				}
			}
		}
	}
}

func send(ctx context.Context, ch chan<- service, svc service) bool {
	select {
	case ch <- svc:
		return true
	case <-ctx.Done():
		return false
	}
}

func fromEntry(e *zeroconf.ServiceEntry) service {
	svc := service{
		Instance: e.Instance,
		Port:     e.Port,
		Text:     e.Text,
	}
	for _, ip := range e.AddrIPv4 {
		svc.Addrs = append(svc.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		svc.Addrs = append(svc.Addrs, ip.String())
	}
	return svc
}
