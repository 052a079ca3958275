// Package download dispatches classified items to kind-specific download
// strategies under a bounded worker pool, gated by a bandwidth admission
// check and guarded so one item's failure never aborts the batch.
package download

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jku-tools/moodle-mirror/internal/session"
	"github.com/jku-tools/moodle-mirror/pkg/logging"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// Config configures download behavior
type Config struct {
	Workers      int           `json:"workers"`
	CeilingMbit  float64       `json:"ceiling_mbit"`  // 0 disables the gate
	MarginMbit   float64       `json:"margin_mbit"`   // headroom below the ceiling
	PollInterval time.Duration `json:"poll_interval"` // gate re-check cadence
	SubmitDelay  time.Duration `json:"submit_delay"`  // pause after each submission
	Interface    string        `json:"interface"`     // network interface to meter
	TargetHeight int           `json:"target_height"` // preferred video resolution
	FFmpegPath   string        `json:"ffmpeg_path"`
}

// DefaultConfig returns default download configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:      4,
		MarginMbit:   5,
		PollInterval: time.Second,
		SubmitDelay:  500 * time.Millisecond,
		TargetHeight: 720,
		FFmpegPath:   "ffmpeg",
	}
}

type strategy func(ctx context.Context, item moodle.Downloadable, dir string) (moodle.DownloadOutcome, error)

// Manager turns classified items into files on disk.
type Manager struct {
	client     *session.Client
	cfg        *Config
	meter      Meter
	log        zerolog.Logger
	strategies map[moodle.Kind]strategy
}

// New creates a download manager. A nil meter with a configured ceiling
// gets an interface meter for the configured network interface.
func New(client *session.Client, cfg *Config, meter Meter) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if meter == nil && cfg.CeilingMbit > 0 {
		meter = NewInterfaceMeter(cfg.Interface)
	}
	m := &Manager{client: client, cfg: cfg, meter: meter, log: logging.Component("download")}
	// One entry per supported kind; everything else takes the default
	// branch in Download and is recorded as failed without a worker slot.
	m.strategies = map[moodle.Kind]strategy{
		moodle.KindResource:  m.fetchResource,
		moodle.KindFolder:    m.exportFolder,
		moodle.KindURL:       m.fetchExternal,
		moodle.KindStreamURL: m.captureStream,
		moodle.KindQuiz:      m.captureQuiz,
	}
	return m
}

// Supported reports whether a strategy exists for the kind.
func (m *Manager) Supported(k moodle.Kind) bool {
	_, ok := m.strategies[k]
	return ok
}

// Download acquires every item into dir. The returned sets partition the
// input exactly when err is nil; on cancellation the not-yet-scheduled
// remainder is absent from both and err carries the cause. Items of
// unsupported kinds fail immediately without consuming a worker slot.
func (m *Manager) Download(ctx context.Context, dir string, items []moodle.Downloadable) (moodle.BatchResult, error) {
	var res moodle.BatchResult
	if len(items) == 0 {
		return res, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, err
	}

	m.log.Info().Int("items", len(items)).Str("dir", dir).Msg("Starting download batch")

	jobs := make(chan moodle.Downloadable)
	outcomes := make(chan moodle.DownloadOutcome, len(items))
	for i := 0; i < m.cfg.Workers; i++ {
		go func() {
			for item := range jobs {
				outcomes <- m.dispatch(ctx, item, dir)
			}
		}()
	}

	submitted := 0
submit:
	for _, item := range items {
		if !m.Supported(item.ResourceKind()) {
			m.log.Warn().
				Str("url", item.SourceURL()).
				Str("kind", string(item.ResourceKind())).
				Msg("No download strategy for kind")
			res.Failed = append(res.Failed, moodle.DownloadOutcome{URL: item.SourceURL()})
			continue
		}
		if err := m.admit(ctx); err != nil {
			break submit
		}
		select {
		case jobs <- item:
			submitted++
		case <-ctx.Done():
			break submit
		}
		select {
		case <-time.After(m.cfg.SubmitDelay):
		case <-ctx.Done():
			break submit
		}
	}
	close(jobs)

	for i := 0; i < submitted; i++ {
		out := <-outcomes
		if out.OK {
			res.Done = append(res.Done, out)
		} else {
			res.Failed = append(res.Failed, out)
		}
		m.log.Debug().
			Str("url", out.URL).
			Bool("ok", out.OK).
			Int("finished", res.Len()).
			Int("total", len(items)).
			Msg("Download finished")
	}
	return res, ctx.Err()
}

// dispatch is the per-item error boundary: any strategy error or panic is
// downgraded to a failed outcome so the batch always accounts for every
// submitted item. Cancellation still surfaces through the submit loop.
func (m *Manager) dispatch(ctx context.Context, item moodle.Downloadable, dir string) (out moodle.DownloadOutcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("url", item.SourceURL()).
				Interface("panic", r).
				Msg("Download strategy panicked")
			out = moodle.DownloadOutcome{URL: item.SourceURL()}
		}
	}()

	m.log.Info().Str("url", item.SourceURL()).Msg("Starting download")
	o, err := m.strategies[item.ResourceKind()](ctx, item, dir)
	if err != nil {
		m.log.Warn().Str("url", item.SourceURL()).Err(err).Msg("Download failed")
		return moodle.DownloadOutcome{URL: item.SourceURL()}
	}
	return o
}
