// Package app wires the server together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dreamtable/server/internal/artifact"
	"dreamtable/server/internal/config"
	"dreamtable/server/internal/genjob"
	"dreamtable/server/internal/hub"
	servernet "dreamtable/server/internal/net"
	"dreamtable/server/internal/table"
)

type Config struct {
	ConfigPath string
	ListenAddr string // overrides the config file when set
	Logger     *zap.Logger
}

// Run builds the full server from configuration and serves until ctx
// is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		built, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer built.Sync()
		logger = built
	}

	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}
	fileCfg.ApplyEnv(logger)
	if cfg.ListenAddr != "" {
		fileCfg.ListenAddr = cfg.ListenAddr
	}

	cache, err := artifact.NewCache(fileCfg.DataDir)
	if err != nil {
		return err
	}

	template, err := genjob.LoadTemplate(fileCfg.Backend.Template, genjob.Defaults{
		Width:         fileCfg.Backend.Width,
		Height:        fileCfg.Backend.Height,
		BatchSize:     fileCfg.Backend.BatchSize,
		StyleStrength: fileCfg.Backend.StyleStrength,
	})
	if err != nil {
		return err
	}

	backend := genjob.NewHTTPBackend(fileCfg.Backend.URL, template)
	jobs := genjob.NewManager(backend, cache, genjob.Config{
		PollInterval:   fileCfg.Jobs.PollInterval.Std(),
		PollBudget:     fileCfg.Jobs.PollBudget,
		RetryAllowance: fileCfg.Jobs.RetryAllowance,
		MaxInFlight:    fileCfg.Jobs.MaxInFlight,
		TableWidth:     fileCfg.Hand.TableWidth,
		HandSpacing:    fileCfg.Hand.Spacing,
		HandY:          fileCfg.Hand.Y,
	}, logger.Named("genjob"))

	h := hub.New(table.NewStore(), cache, jobs, logger.Named("hub"))
	handler := servernet.NewHTTPHandler(h, servernet.HTTPHandlerConfig{
		ClientDir: fileCfg.ClientDir,
		Logger:    logger,
	})

	srv := &http.Server{Addr: fileCfg.ListenAddr, Handler: handler}
	logger.Info("server listening",
		zap.String("addr", srv.Addr),
		zap.String("backend", fileCfg.Backend.URL))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
