package discovery

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tivoremote-bridge/internal/tivo"
)

// Kind distinguishes discovery events.
type Kind int

const (
	// Found reports a device that became reachable.
	Found Kind = iota + 1
	// Lost reports a device that went away.
	Lost
)

// String returns the lower-case event name.
func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Event is one discovery notification. Device is set for Found only.
type Event struct {
	Kind     Kind
	DeviceID string
	Device   bridge.Device
}

// Source produces discovery events until ctx is cancelled.
//
// Run blocks. emit must not block for long; it is called from the source's
// own goroutines. The source owns every device it emits and closes them in
// Close, which the caller invokes after the bridge has let go of them.
type Source interface {
	Run(ctx context.Context, emit func(Event)) error
	Close() error
}

// Handle is a connected device owned by a source.
type Handle interface {
	bridge.Device
	Done() <-chan struct{}
	Close() error
}

// DialFunc connects to one DVR.
type DialFunc func(ctx context.Context, cfg tivo.Config) (Handle, error)

// TiVoDialer dials DVRs with the tivo driver.
func TiVoDialer(logger *logging.Logger) DialFunc {
	return func(ctx context.Context, cfg tivo.Config) (Handle, error) {
		dev, err := tivo.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// Multi runs several sources together.
type Multi []Source

// Run runs every source until ctx is cancelled or one of them fails.
func (m Multi) Run(ctx context.Context, emit func(Event)) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range m {
		g.Go(func() error {
			return src.Run(ctx, emit)
		})
	}
	return g.Wait()
}

// Close closes every source.
func (m Multi) Close() error {
	var errs []error
	for _, src := range m {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// owned tracks the devices a source has handed out.
type owned struct {
	devices map[string]Handle
}

func newOwned() owned {
	return owned{devices: make(map[string]Handle)}
}

func (o owned) closeAll() error {
	var errs []error
	for id, dev := range o.devices {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(o.devices, id)
	}
	return errors.Join(errs...)
}
