package sensor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/framebuf"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// Feed owns one camera stream and the buffer holding its latest frame.
type Feed struct {
	cfg    CameraConfig
	id     simhost.SensorID
	buf    *framebuf.Buffer
	logger *slog.Logger

	processed   atomic.Uint64
	dropped     atomic.Uint64
	decodeNanos atomic.Int64

	// closeMu orders buffer writes against Close.
	closeMu sync.RWMutex
	closed  bool
}

func newFeed(id simhost.SensorID, cfg CameraConfig, logger *slog.Logger) *Feed {
	return &Feed{
		cfg:    cfg,
		id:     id,
		buf:    framebuf.New(),
		logger: logger.With("camera", cfg.Name, "sensor", id),
	}
}

// ID returns the sensor id of the camera.
func (f *Feed) ID() simhost.SensorID { return f.id }

// Config returns the camera configuration.
func (f *Feed) Config() CameraConfig { return f.cfg }

// Buffer returns the latest-frame buffer.
func (f *Feed) Buffer() *framebuf.Buffer { return f.buf }

// Handle decodes one payload into the buffer. Malformed payloads are logged and
// dropped, leaving the previous frame in place.
func (f *Feed) Handle(p simhost.Payload) {
	img, ok := p.(*simhost.ImagePayload)
	if !ok {
		f.dropped.Add(1)
		f.logger.Warn("unexpected payload for camera", "frame", p.Frame())
		return
	}

	start := time.Now()
	frame, err := DecodeBGRA(img, f.cfg.Mirror)
	if err != nil {
		f.dropped.Add(1)
		f.logger.Warn("dropping camera frame", "frame", img.Tick, "error", err)
		return
	}
	frame.SensorID = f.cfg.Name

	f.closeMu.RLock()
	defer f.closeMu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	f.buf.Write(frame)
	f.decodeNanos.Add(int64(time.Since(start)))
	f.processed.Add(1)
}

// Close stops writes to the buffer. Once Close returns no Handle call can
// write another frame.
func (f *Feed) Close() {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	f.closed = true
}

// Closed reports whether Close was called.
func (f *Feed) Closed() bool {
	f.closeMu.RLock()
	defer f.closeMu.RUnlock()
	return f.closed
}

// Stats returns the decode statistics.
func (f *Feed) Stats() core.FeedStats {
	return core.FeedStats{
		Name:       f.cfg.Name,
		Processed:  f.processed.Load(),
		Dropped:    f.dropped.Load(),
		DecodeTime: time.Duration(f.decodeNanos.Load()),
	}
}
