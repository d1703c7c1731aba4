package game

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepRetry    = 500 * time.Millisecond
)

// Janitor periodically sweeps the registry for rooms whose sessions
// are all dead and for waiting sessions whose connection dropped. A
// sweep that did work re-polls quickly to drain any backlog.
type Janitor struct {
	registry *Registry
	interval time.Duration
	retry    time.Duration
	logger   zerolog.Logger
}

type JanitorConfig struct {
	Registry *Registry
	Interval time.Duration
	// Retry is the fast re-poll interval after a productive sweep.
	Retry  time.Duration
	Logger *zerolog.Logger
}

func NewJanitor(cfg JanitorConfig) *Janitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	retry := cfg.Retry
	if retry <= 0 {
		retry = defaultSweepRetry
	}
	return &Janitor{
		registry: cfg.Registry,
		interval: interval,
		retry:    retry,
		logger:   cfg.Logger.With().Str("component", "janitor").Logger(),
	}
}

func (j *Janitor) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		j.logger.Debug().Msg("janitor stopped")
		wg.Done()
	}()

	timer := time.NewTimer(j.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			swept := j.registry.SweepRooms() + j.registry.SweepWaiting()
			next := j.interval
			if swept > 0 {
				j.logger.Debug().Int("swept", swept).Msg("sweep did work, re-polling")
				next = j.retry
			}
			timer.Reset(next)
		}
	}
}
