package refresh

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/actuallystonmai/library-intelligence/internal/logging"
)

// Periodic runs a task on start and then on every tick until its context
// ends. Task errors are logged and retried on the next tick; they never
// bring the service down.
type Periodic struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	task     func(ctx context.Context) error
	logger   zerolog.Logger
}

func NewPeriodic(name string, interval time.Duration, task func(ctx context.Context) error, logger zerolog.Logger) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		timeout:  max(interval, time.Minute),
		task:     task,
		logger:   logger.With().Str("service", name).Logger(),
	}
}

func (p *Periodic) Serve(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("service starting")
	p.run(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("service shutting down")
			return ctx.Err()
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *Periodic) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.task(runCtx); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("run failed")
		}
		return
	}
	p.logger.Debug().Dur("duration", time.Since(start)).Msg("run complete")
}

func (p *Periodic) String() string { return p.name }

type SupervisorConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// NewSupervisor builds the supervisor for the background services. Its event
// hook writes supervisor events through zerolog.
func NewSupervisor(cfg SupervisorConfig, logger zerolog.Logger, services ...suture.Service) *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger(logger)}).MustHook()
	sup := suture.New("library-intelligence", suture.Spec{
		EventHook:        hook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
	for _, svc := range services {
		sup.Add(svc)
	}
	return sup
}
