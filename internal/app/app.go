package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/auto-dns/docker-logwatch/internal/config"
	"github.com/auto-dns/docker-logwatch/internal/core"
	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/auto-dns/docker-logwatch/internal/event"
	"github.com/auto-dns/docker-logwatch/internal/output"
	"github.com/auto-dns/docker-logwatch/internal/state"
	"github.com/auto-dns/docker-logwatch/internal/util"
	dockerCli "github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type printer interface {
	Print(l domain.ContainerLog) error
}

type App struct {
	dockerClient *dockerCli.Client
	engine       *core.Engine
	printer      printer
	opts         core.SubscribeOptions
	logger       zerolog.Logger
}

// New creates a new App by wiring up all dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	opts, err := SubscribeOptions(&cfg.App)
	if err != nil {
		return nil, err
	}
	p, err := output.NewPrinter(os.Stdout, os.Stderr, output.Format(cfg.App.Format), output.ColorMode(cfg.App.Color))
	if err != nil {
		return nil, err
	}

	// Docker CLI
	clientOpts := []dockerCli.Opt{dockerCli.FromEnv, dockerCli.WithAPIVersionNegotiation()}
	if cfg.Docker.Host != "" {
		clientOpts = append(clientOpts, dockerCli.WithHost(cfg.Docker.Host))
	}
	dockerClient, err := dockerCli.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Engine
	src := event.NewDockerSource(dockerClient, logger)
	tracker := state.NewTracker(src, cfg.Timing.RetryMaxInterval, logger)
	engine := core.NewEngine(dockerClient, tracker, core.Timing{
		ReconnectDelay:   cfg.Timing.ReconnectDelay,
		RetryMaxInterval: cfg.Timing.RetryMaxInterval,
		StartPad:         cfg.Timing.StartPad,
		TeardownGrace:    cfg.Timing.TeardownGrace,
		StreamBuffer:     cfg.Output.StreamBuffer,
	}, logger)

	return &App{
		dockerClient: dockerClient,
		engine:       engine,
		printer:      p,
		opts:         opts,
		logger:       logger,
	}, nil
}

// SubscribeOptions builds the subscription from the configured stream,
// --match expressions and the nested filter tree. Patterns for the same
// path from both sources are combined.
func SubscribeOptions(cfg *config.AppConfig) (core.SubscribeOptions, error) {
	opts := core.SubscribeOptions{Stream: domain.StreamSelector(cfg.Stream)}
	if !opts.Stream.IsValid() {
		return opts, core.ErrInvalidStream
	}

	exprs := util.Filter(cfg.Match, func(expr string) bool {
		return strings.TrimSpace(expr) != ""
	})
	matches, err := core.ParseFilter(exprs)
	if err != nil {
		return opts, err
	}
	tree, err := core.FilterFromTree(cfg.Filter)
	if err != nil {
		return opts, err
	}

	filter := core.Filter{}
	for _, f := range []core.Filter{tree, matches} {
		for path, patterns := range f {
			filter[path] = append(filter[path], patterns...)
		}
	}
	if len(filter) > 0 {
		opts.ContainerMatches = filter
	}
	return opts, nil
}

// Run streams matching container logs until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Str("stream", string(a.opts.Stream)).Stringer("filter", a.opts.ContainerMatches).Msg("Application starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.print(gctx)
	})
	return g.Wait()
}

func (a *App) print(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logs, errs := a.engine.Stream(ctx, a.opts)
	for l := range logs {
		if err := a.printer.Print(l); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}
	if err, ok := <-errs; ok {
		return err
	}
	return nil
}

func (a *App) Close() error {
	if a.dockerClient != nil {
		if err := a.dockerClient.Close(); err != nil {
			return fmt.Errorf("close docker client: %w", err)
		}
	}
	return nil
}
