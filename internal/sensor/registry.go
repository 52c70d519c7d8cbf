package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// Registry maps sensor ids to camera feeds. Server callbacks hold only the
// sensor id and look the feed up on every delivery, so removing a feed from
// the registry is enough to cut it off.
type Registry struct {
	server simhost.Server
	logger *slog.Logger

	mu    sync.RWMutex
	feeds map[simhost.SensorID]*Feed
	order []simhost.SensorID
}

// NewRegistry creates an empty registry.
func NewRegistry(server simhost.Server, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		server: server,
		logger: logger,
		feeds:  make(map[simhost.SensorID]*Feed),
	}
}

// Attach spawns a camera on parent and starts its feed.
func (r *Registry) Attach(ctx context.Context, cfg CameraConfig, parent core.ActorID) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, err := r.server.AttachSensor(ctx, cfg.Spec(parent))
	if err != nil {
		return nil, fmt.Errorf("attach camera %s: %w", cfg.Name, err)
	}

	feed := newFeed(id, cfg, r.logger)
	r.mu.Lock()
	r.feeds[id] = feed
	r.order = append(r.order, id)
	r.mu.Unlock()

	// A camera that fails to subscribe stays registered for Close.
	if err := r.server.Subscribe(id, r.callback(id)); err != nil {
		return nil, fmt.Errorf("subscribe camera %s: %w", cfg.Name, err)
	}
	r.logger.Debug("camera attached", "camera", cfg.Name, "sensor", id,
		"width", cfg.ImageWidth, "height", cfg.ImageHeight, "mirror", cfg.Mirror)
	return feed, nil
}

func (r *Registry) callback(id simhost.SensorID) simhost.Callback {
	return func(p simhost.Payload) {
		feed, ok := r.Lookup(id)
		if !ok {
			return
		}
		feed.Handle(p)
	}
}

// Lookup returns the live feed for id.
func (r *Registry) Lookup(id simhost.SensorID) (*Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[id]
	return f, ok
}

// Feeds returns the live feeds in attach order.
func (r *Registry) Feeds() []*Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Feed, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.feeds[id])
	}
	return out
}

// Stats returns the statistics of every live feed in attach order.
func (r *Registry) Stats() []core.FeedStats {
	feeds := r.Feeds()
	out := make([]core.FeedStats, len(feeds))
	for i, f := range feeds {
		out[i] = f.Stats()
	}
	return out
}

// Stop stops every subscription and closes every feed. Feeds stay registered
// so their statistics remain readable until Close.
func (r *Registry) Stop(ctx context.Context) error {
	var errs []error
	for _, f := range r.Feeds() {
		if f.Closed() {
			continue
		}
		if err := r.server.StopSensor(ctx, f.id); err != nil {
			errs = append(errs, fmt.Errorf("stop camera %s: %w", f.cfg.Name, err))
		}
		f.Close()
	}
	return errors.Join(errs...)
}

// Close stops every feed and destroys the camera actors.
func (r *Registry) Close(ctx context.Context) error {
	errs := []error{r.Stop(ctx)}
	r.mu.RLock()
	ids := append([]simhost.SensorID(nil), r.order...)
	r.mu.RUnlock()
	for _, id := range ids {
		errs = append(errs, r.remove(ctx, id))
	}
	return errors.Join(errs...)
}

func (r *Registry) remove(ctx context.Context, id simhost.SensorID) error {
	r.mu.Lock()
	f, ok := r.feeds[id]
	delete(r.feeds, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	f.Close()
	if err := r.server.DestroyActor(ctx, id); err != nil {
		return fmt.Errorf("destroy camera %s: %w", f.cfg.Name, err)
	}
	return nil
}
