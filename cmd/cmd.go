package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/gitk-web/internal/buildinfo"
	"github.com/thiagokokada/gitk-web/internal/cache"
	"github.com/thiagokokada/gitk-web/internal/config"
	"github.com/thiagokokada/gitk-web/internal/git"
	"github.com/thiagokokada/gitk-web/internal/highlight"
	"github.com/thiagokokada/gitk-web/internal/server"
	"github.com/thiagokokada/gitk-web/internal/watch"
)

const shutdownTimeout = 5 * time.Second

func Run() error {
	return run(os.Args[1:])
}

func run(args []string) error {
	cfg, showVersion, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}
	setupLogging(cfg.Log.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

// parseConfig resolves the configuration from defaults, the optional config
// file, GITK_WEB_* variables and finally the flags set in args.
func parseConfig(args []string) (*config.Config, bool, error) {
	fs := flag.NewFlagSet("gitk-web", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", "", "address to listen on")
	remoteTimeout := fs.Duration("remote-timeout", git.DefaultRemoteTimeout, "timeout for listing remote branches")
	useCache := fs.Bool("cache", true, "cache repository queries in memory")
	cacheSize := fs.Int("cache-size", cache.DefaultSize, "number of entries per query cache")
	noWatch := fs.Bool("nowatch", false, "disable refreshing cached refs when the repository changes")
	noSyntax := fs.Bool("nosyntax", false, "disable syntax highlighting in file and diff views")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return nil, true, nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, false, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "remote-timeout":
			cfg.Git.RemoteTimeout = *remoteTimeout
		case "cache":
			cfg.Cache.Enabled = *useCache
		case "cache-size":
			cfg.Cache.Size = *cacheSize
		case "nowatch":
			cfg.Watch.Enabled = !*noWatch
		case "nosyntax":
			cfg.Highlight.Enabled = !*noSyntax
		case "verbose":
			cfg.Log.Verbose = *verbose
		}
	})
	if remaining := fs.Args(); len(remaining) > 0 {
		cfg.Repository = remaining[len(remaining)-1]
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildQuerier stacks the cache over svc when enabled. Ref dependent results
// are only cached while a watcher can invalidate them.
func buildQuerier(svc git.Querier, cfg *config.Config) (git.Querier, *cache.Querier, error) {
	if !cfg.Cache.Enabled {
		return svc, nil, nil
	}
	cached, err := cache.New(svc, cfg.Cache.Size)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Watch.Enabled {
		cached.DisableRefCache()
	}
	return cached, cached, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	svc, err := git.Open(cfg.Repository, git.WithRemoteTimeout(cfg.Git.RemoteTimeout))
	if err != nil {
		return err
	}
	slog.Info("opened repository", slog.String("path", svc.RepoPath()))

	repo, cached, err := buildQuerier(svc, cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Watch.Enabled {
		w := watch.New(svc.RepoPath(), cfg.Watch.Delay)
		if cached != nil {
			w.Subscribe(cached.Invalidate)
		}
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				// The viewer keeps working without change notifications.
				slog.Error("repository watcher disabled", slog.Any("error", err))
				if cached != nil {
					cached.DisableRefCache()
				}
			}
			return nil
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(repo, highlight.New(cfg.Highlight.Style, cfg.Highlight.Enabled)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
