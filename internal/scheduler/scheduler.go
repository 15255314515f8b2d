package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tldrpost/internal/metrics"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	refreshModelsTimeout  = 30 * time.Second
)

type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler keeps the model list in sync with the server while the process
// runs. An empty spec disables it.
type Scheduler struct {
	ctx       context.Context
	cron      *cron.Cron
	spec      string
	refresher Refresher
	log       *slog.Logger
}

func New(ctx context.Context, spec string, refresher Refresher, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:       ctx,
		cron:      c,
		spec:      strings.TrimSpace(spec),
		refresher: refresher,
		log:       log,
	}
}

func (s *Scheduler) Enabled() bool {
	return s.spec != ""
}

func (s *Scheduler) Start() error {
	if !s.Enabled() {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.refreshModels); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refreshModels() {
	ctx, cancel := context.WithTimeout(s.ctx, refreshModelsTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	if err := s.refresher.Refresh(ctx); err != nil {
		metrics.ModelRefreshesTotal.WithLabelValues("error").Inc()
		s.log.ErrorContext(ctx, "Failed to refresh models",
			"error", err,
			"spec", s.spec)
		return
	}

	metrics.ModelRefreshesTotal.WithLabelValues("ok").Inc()
}
