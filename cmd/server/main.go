// Package main provides the entry point for the claude-proxy server. The
// server exposes Anthropic Messages API endpoints and forwards translated
// requests to an OpenAI-compatible upstream such as OpenRouter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/loomino-brkh/claude-proxy/internal/api"
	"github.com/loomino-brkh/claude-proxy/internal/buildinfo"
	"github.com/loomino-brkh/claude-proxy/internal/config"
	"github.com/loomino-brkh/claude-proxy/internal/logging"
	"github.com/loomino-brkh/claude-proxy/internal/util"
	"github.com/loomino-brkh/claude-proxy/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("claude-proxy %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", configPath, err)
	}
	cfg.ApplyEnvOverrides()

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	util.SetLogLevel(cfg.Debug)

	server := api.NewServer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(groupCtx)
	})

	if _, errStat := os.Stat(configPath); errStat == nil {
		w, errWatch := watcher.NewWatcher(configPath, func(newCfg *config.Config) {
			if errOut := logging.ConfigureLogOutput(newCfg); errOut != nil {
				log.WithError(errOut).Warn("failed to reconfigure log output")
			}
			server.UpdateConfig(newCfg)
		})
		if errWatch != nil {
			log.Fatalf("failed to create config watcher: %v", errWatch)
		}
		w.SetConfig(cfg)
		group.Go(func() error {
			defer func() {
				if errStop := w.Stop(); errStop != nil {
					log.WithError(errStop).Debug("failed to stop config watcher")
				}
			}()
			if errRun := w.Start(groupCtx); errRun != nil && !errors.Is(errRun, context.Canceled) {
				return errRun
			}
			return nil
		})
	} else {
		log.Debugf("config file %s not found, hot reload disabled", configPath)
	}

	if err = group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server exited with error: %v", err)
	}
	log.Info("shutdown complete")
}
