package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/api"
	"github.com/yourname/battle-server/internal/auth"
	"github.com/yourname/battle-server/internal/codec"
	"github.com/yourname/battle-server/internal/config"
	"github.com/yourname/battle-server/internal/linker"
	"github.com/yourname/battle-server/internal/logging"
	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/internal/metrics"
	"github.com/yourname/battle-server/internal/store"
	"github.com/yourname/battle-server/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server stopped", "err", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	st := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer st.Close()

	c, err := codec.NewFromHex(cfg.Codec.Key)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)

	opts := api.Options{Health: st}
	var dispatch ws.Dispatcher
	switch cfg.Linker.Mode {
	case config.ModeInstance:
		client := linker.NewClient(linker.Config{
			URL:               cfg.Linker.URL,
			Token:             cfg.Linker.Token,
			InstanceID:        cfg.Linker.InstanceID,
			HeartbeatInterval: cfg.Linker.HeartbeatInterval,
			ReconnectDelay:    cfg.Linker.ReconnectDelay,
			ScoreInterval:     cfg.Linker.ScoreInterval,
			IdentifyTimeout:   cfg.Linker.IdentifyTimeout,
			LookupTimeout:     cfg.Match.LookupTimeout,
		}, st, log)
		if err := client.Start(); err != nil {
			log.Warnw("linker not reachable yet, retrying", "err", err)
		}
		defer client.Stop()
		dispatch = client
	default:
		mgr := match.NewManager(st, st, cfg.Match.LookupTimeout, log)
		if cfg.Linker.Mode == config.ModeHost {
			opts.Linker = linker.NewHost(cfg.Linker.Token, cfg.Linker.IdentifyTimeout, mgr, log)
		}
		dispatch = mgr
	}
	opts.Battle = ws.NewIngress(c, verifier, st, dispatch, cfg.Match.LookupTimeout, log)

	metrics.Init()

	srv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: api.NewRouter(opts)}
	errc := make(chan error, 1)
	go func() {
		log.Infow("http listening", "addr", cfg.Server.HTTPAddr, "mode", cfg.Linker.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return err
	}
	log.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
