// Command simulate replays synthetic match reports against a running service
// and checks that the resulting ratings follow the hidden player skill.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/simulate"
	"github.com/okian/ranklobby/pkg/logger"
)

const (
	defaultWorkers = 2 // multiplier for runtime.NumCPU()
	defaultRunTime = 10 * time.Minute
	logPermission  = 0o600
)

func main() {
	os.Exit(run())
}

func run() int {
	def := simulate.DefaultConfig()
	var (
		baseURL  = flag.String("url", def.BaseURL, "Base URL of the service")
		mode     = flag.String("mode", string(def.Mode), "Ruleset of the generated matches")
		players  = flag.Int("players", def.Players, "Number of synthetic players")
		content  = flag.Int("content", def.Content, "Number of synthetic content items")
		matches  = flag.Int("matches", def.Matches, "Number of match reports to submit")
		perMatch = flag.Int("per-match", def.PlayersPerMatch, "Players per match")
		seed     = flag.Uint64("seed", def.Seed, "Scenario seed")
		topN     = flag.Int("top", def.TopN, "Number of leaderboard entries to fetch")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout  = flag.Duration("timeout", def.Timeout, "HTTP request timeout")
		settle   = flag.Duration("settle", def.SettleTimeout, "How long to wait for reports to be processed")
		minCorr  = flag.Float64("min-correlation", 0, "Fail when the skill/elo rank correlation is below this")
		output   = flag.String("output", "", "Write the generated scenario to this file")
		logFile  = flag.String("log", "", "Also write logs to this file")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		runLimit = flag.Duration("deadline", defaultRunTime, "Abort the run after this long")
	)
	flag.Parse()

	m, err := model.ParseMode(*mode)
	if err != nil {
		os.Stderr.WriteString("invalid mode: " + err.Error() + "\n")
		return 2
	}

	var out io.Writer = os.Stdout
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logPermission)
		if err != nil {
			os.Stderr.WriteString("failed to open log file: " + err.Error() + "\n")
			return 1
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}
	if err := logger.Init(logger.WithWriter(out)); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		return 1
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *runLimit)
	defer cancel()

	cfg := simulate.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.Mode = m
	cfg.Players = *players
	cfg.Content = *content
	cfg.Matches = *matches
	cfg.PlayersPerMatch = *perMatch
	cfg.Seed = *seed
	cfg.TopN = *topN
	cfg.Workers = *workers
	cfg.Timeout = *timeout
	cfg.SettleTimeout = *settle
	cfg.MinCorrelation = *minCorr
	cfg.OutputFile = *output

	r := simulate.NewRunner(cfg, logger.Get())
	err = r.Run(ctx)
	r.LogStats(ctx)
	if err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		return 1
	}
	return 0
}
