package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/asmbattle/backend/backend/game"
	"github.com/asmbattle/backend/backend/judge"
	"github.com/asmbattle/backend/backend/metrics"
	"github.com/asmbattle/backend/backend/problems"
	httpServer "github.com/asmbattle/backend/backend/server/http"
	websocketServer "github.com/asmbattle/backend/backend/server/websocket"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "ops api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		problemsPath  = fs.StringP("problems", "p", "problems.yaml", "path to the problem catalogue")
		judgeCmd      = fs.StringP("judge-cmd", "j", "python3 sandbox_riscv.py", "sandbox command the judge pipes submissions to")
		judgeTimeout  = fs.Duration("judge-timeout", 30*time.Second, "wall-clock budget per judged submission")
		matchTimeout  = fs.Duration("match-timeout", 10*time.Minute, "how long a connection may wait for a join/create")
		sweepInterval = fs.Duration("sweep-interval", 30*time.Second, "dead room/session sweep interval")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	catalogue, err := problems.LoadFile(*problemsPath)
	if err != nil {
		// an empty catalogue is survivable: matches run, nothing is solvable
		logger.Warn().Err(err).Msg("starting without a problem catalogue")
	}
	logger.Info().Int("problems", len(catalogue)).Msg("problem catalogue loaded")

	mets := metrics.New()
	sandbox := judge.NewSandbox(judge.SandboxConfig{
		Command: strings.Fields(*judgeCmd),
		Timeout: *judgeTimeout,
		Logger:  &logger,
	})
	registry := game.NewRegistry(game.RegistryConfig{
		Judge:     sandbox,
		Catalogue: catalogue,
		Logger:    &logger,
		Metrics:   mets,
	})
	janitor := game.NewJanitor(game.JanitorConfig{
		Registry: registry,
		Interval: *sweepInterval,
		Logger:   &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Registry:   registry,
		Metrics:    mets,
		ListenAddr: *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:             &logger,
		Registry:           registry,
		Metrics:            mets,
		ListenAddr:         *wsListenAddr,
		MatchmakingTimeout: *matchTimeout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go janitor.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
