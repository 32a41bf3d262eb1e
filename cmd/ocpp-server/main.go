// Command ocpp-server runs an OCPP central system: a websocket endpoint for
// charge points and an HTTP API for operators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/ocpp-server-go/apiserver"
	"github.com/ggoodman/ocpp-server-go/config"
	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/handlers"
	"github.com/ggoodman/ocpp-server-go/internal/logctx"
	"github.com/ggoodman/ocpp-server-go/registry"
	"github.com/ggoodman/ocpp-server-go/schema"
	"github.com/ggoodman/ocpp-server-go/storage"
	"github.com/ggoodman/ocpp-server-go/storage/badger"
	"github.com/ggoodman/ocpp-server-go/storage/memory"
	"github.com/ggoodman/ocpp-server-go/storage/redis"
	"github.com/ggoodman/ocpp-server-go/wsserver"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("OCPP_CONFIG"), "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, _ := cfg.Level()
	log := slog.New(logctx.NewHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.SetDefault(log)

	schemas, err := newSchemaRegistry(cfg)
	if err != nil {
		return err
	}

	store, err := newStorage(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	connected := registry.New()
	set := &handlers.Set{
		Store:             store,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            log,
	}

	ws := wsserver.New(schemas,
		wsserver.WithLogger(log),
		wsserver.WithRegistry(connected),
		wsserver.WithSubprotocols(cfg.Subprotocols...),
		wsserver.WithCallTimeout(cfg.CallTimeout),
		wsserver.WithPingInterval(cfg.PingInterval),
		wsserver.WithAttach(func(e *engine.Engine) { engine.AttachLogging(e, log) }),
		wsserver.WithHandlers(set.Install),
	)

	mux := http.NewServeMux()
	mux.Handle(strings.TrimSuffix(cfg.PathPrefix, "/")+"/", ws)

	servers := []*http.Server{{Addr: cfg.ListenAddr, Handler: mux}}
	if cfg.APIAddr != "" {
		api := apiserver.New(connected, store, apiserver.WithLogger(log), apiserver.WithCallTimeout(cfg.CallTimeout))
		servers = append(servers, &http.Server{Addr: cfg.APIAddr, Handler: api})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			log.Info("server.listen", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("server.shutdown")
	case err = <-errs:
		log.Error("server.fail", slog.String("err", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = ws.Close()
	for _, srv := range servers {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Warn("server.shutdown.fail", slog.String("addr", srv.Addr), slog.String("err", serr.Error()))
		}
	}
	return err
}

func newSchemaRegistry(cfg config.Config) (*schema.Registry, error) {
	opts := []schema.Option{schema.WithBuiltin()}
	opts = append(opts, handlers.CommandSchemas()...)
	if cfg.SchemaDir != "" {
		opts = append(opts, schema.WithFS(cfg.SchemaDirVersion, os.DirFS(cfg.SchemaDir), "."))
	}
	reg, err := schema.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return reg, nil
}

func newStorage(cfg config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redis.New(redis.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
	case config.StorageBadger:
		return badger.New(badger.Config{Dir: cfg.BadgerDir, Logger: log})
	default:
		return memory.NewWithCleanup(cfg.MemoryMaxItems, time.Minute)
	}
}
