package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/internal/history"
	"github.com/loykin/rigwatch/internal/history/factory"
	"github.com/loykin/rigwatch/internal/logger"
	"github.com/loykin/rigwatch/internal/manager"
	"github.com/loykin/rigwatch/internal/metrics"
	"github.com/loykin/rigwatch/internal/server"
	itls "github.com/loykin/rigwatch/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func runServe(parent context.Context, f ServeFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closer, err := logger.New(cfg.Log, nil)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	var sink history.Sink
	if len(cfg.History.DSNs) > 0 {
		fan, err := factory.NewFanout(cfg.History.DSNs)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer func() { _ = fan.Close() }()
		sink = fan
	}

	reg, err := manager.New(cfg, manager.Options{Logger: log, History: sink})
	if err != nil {
		return err
	}

	tlsCfg, err := itls.Setup(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	srv := server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, reg, cfg.Metrics.Enabled)
	srv.TLSConfig = tlsCfg

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return reg.Run(gctx) })
	g.Go(func() error {
		log.Info("serving control API", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
