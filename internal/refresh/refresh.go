// Package refresh periodically reconciles the local contact directory with
// the remote lookup service.
package refresh

import (
	"context"
	"time"

	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/directory"
	"go.uber.org/zap"
)

// CandidateSource produces the addresses worth asking the lookup service
// about. Implementations typically merge configured seed numbers with every
// address the directory has ever seen.
type CandidateSource interface {
	Candidates() ([]string, error)
}

// MergedSource combines configured seed addresses with the directory's
// cached addresses, deduplicated.
type MergedSource struct {
	Seeds     []string
	Directory *directory.Directory
}

func (s *MergedSource) Candidates() ([]string, error) {
	cached, err := s.Directory.Addresses()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(s.Seeds)+len(cached))
	out := make([]string, 0, len(s.Seeds)+len(cached))
	for _, a := range append(append([]string{}, s.Seeds...), cached...) {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

// Refresher runs a full directory refresh on a fixed interval and on demand.
type Refresher struct {
	directory *directory.Directory
	source    CandidateSource
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration
	trigger   chan struct{}
	cancel    context.CancelFunc
}

// New creates a refresher. interval of zero disables the periodic run;
// TriggerNow still works.
func New(d *directory.Directory, src CandidateSource, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Refresher {
	return &Refresher{
		directory: d,
		source:    src,
		bus:       b,
		logger:    logger,
		interval:  interval,
		trigger:   make(chan struct{}, 1),
	}
}

// Start launches the refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Stop stops the loop.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// TriggerNow requests an immediate refresh. Requests coalesce while a
// refresh is already queued.
func (r *Refresher) TriggerNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Refresher) loop(ctx context.Context) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			r.runOnce(ctx)
		case <-r.trigger:
			r.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runOnce performs one full reconciliation pass. Candidates the batch could
// not even canonicalize are logged and skipped; they never reach the wire.
func (r *Refresher) runOnce(ctx context.Context) {
	candidates, err := r.source.Candidates()
	if err != nil {
		r.logger.Error("failed to collect refresh candidates", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	skipped, err := r.directory.BatchRefresh(ctx, candidates)
	if err != nil {
		r.logger.Error("directory refresh failed", zap.Error(err))
		r.bus.Emit(bus.KindNotifyProblem, bus.Problem{Reason: "directory refresh failed"})
		return
	}
	if len(skipped) > 0 {
		r.logger.Warn("refresh skipped malformed candidates", zap.Strings("candidates", skipped))
	}
	r.logger.Info("directory refreshed", zap.Int("candidates", len(candidates)-len(skipped)))
	r.bus.Emit(bus.KindDirectoryRefreshed, len(candidates)-len(skipped))
}
