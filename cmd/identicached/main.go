// Command identicached runs the identity-resolution cache service: the HTTP
// surface, the daily generation rotation, the nightly full sync, and the
// drift detector.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/identicache"
	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/backend/keyval"
	mongoback "github.com/unkn0wn-root/identicache/backend/mongo"
	mysqlback "github.com/unkn0wn-root/identicache/backend/mysql"
	"github.com/unkn0wn-root/identicache/backend/scylla"
	"github.com/unkn0wn-root/identicache/backend/yugabyte"
	"github.com/unkn0wn-root/identicache/codec"
	"github.com/unkn0wn-root/identicache/config"
	"github.com/unkn0wn-root/identicache/httpapi"
	"github.com/unkn0wn-root/identicache/identity"
	zaplog "github.com/unkn0wn-root/identicache/log/zap"
	"github.com/unkn0wn-root/identicache/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "identicached:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, loc, err := config.Load()
	if err != nil {
		return err
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zl.Sync()
	logger := zaplog.Logger{L: zl}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := connectBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close(context.Background())

	gens, err := store.Open(store.Config{
		Root:         cfg.CacheRoot,
		Location:     loc,
		RotateHour:   cfg.RotateHour,
		RotateMinute: cfg.RotateMinute,
	}, time.Now())
	if err != nil {
		return err
	}
	cur, prev := gens.Dirs()
	logger.Info("generations attached", identicache.Fields{"current": cur, "previous": prev})

	recCodec, err := recordCodec(cfg.Codec)
	if err != nil {
		return err
	}

	engine, err := identicache.New(identicache.Options{
		Generations:    gens,
		Backends:       registry,
		Codec:          recCodec,
		Logger:         logger,
		BackendTimeout: cfg.BackendTimeout,
		SyncBatchSize:  cfg.SyncBatchSize,
		SyncLogPath:    cfg.SyncLogPath,
		Location:       loc,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	sched := cron.New(cron.WithLocation(loc))
	rotateSpec := fmt.Sprintf("%d %d * * *", cfg.RotateMinute, cfg.RotateHour)
	if _, err := sched.AddFunc(rotateSpec, func() {
		if err := engine.Rotate(time.Now()); err != nil {
			logger.Error("rotation failed, previous generations remain in use",
				identicache.Fields{"err": err})
		}
	}); err != nil {
		return fmt.Errorf("schedule rotation: %w", err)
	}
	if _, err := sched.AddFunc(cfg.SyncSchedule, func() {
		if _, err := engine.FullSync(context.Background(), 0); err != nil {
			logger.Error("nightly sync failed", identicache.Fields{"err": err})
		}
	}); err != nil {
		return fmt.Errorf("schedule nightly sync: %w", err)
	}
	if _, err := sched.AddFunc("@every "+cfg.DriftInterval.String(), func() {
		if err := engine.DriftCheck(context.Background()); err != nil {
			logger.Error("drift check failed", identicache.Fields{"err": err})
		}
	}); err != nil {
		return fmt.Errorf("schedule drift check: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("identity API listening", identicache.Fields{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func recordCodec(name string) (codec.Codec[identity.Record], error) {
	switch name {
	case "", "msgpack":
		return codec.Msgpack[identity.Record]{}, nil
	case "cbor":
		return codec.NewCBOR[identity.Record](false)
	case "json":
		return codec.JSON[identity.Record]{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// connectBackends wires an adapter for every store whose endpoint is
// configured. Connections are long-lived and shared; each adapter owns its
// client and closes it on registry close.
func connectBackends(ctx context.Context, cfg config.Config) (*backend.Registry, error) {
	registry := backend.NewRegistry()

	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, mongoopts.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		b, err := mongoback.New(mongoback.Config{
			Client:      client,
			Database:    cfg.MongoDatabase,
			Collection:  cfg.MongoCollection,
			CloseClient: true,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(identity.AppRivas, b)
	}

	if cfg.MySQLDSN != "" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(10)
		b, err := mysqlback.New(mysqlback.Config{DB: db, CloseDB: true})
		if err != nil {
			return nil, err
		}
		registry.Register(identity.AppEcommerce, b)
	}

	if cfg.YugabyteURL != "" {
		pool, err := pgxpool.New(ctx, cfg.YugabyteURL)
		if err != nil {
			return nil, fmt.Errorf("connect yugabyte: %w", err)
		}
		b, err := yugabyte.New(yugabyte.Config{Pool: pool, ClosePool: true})
		if err != nil {
			return nil, err
		}
		registry.Register(identity.AppFastStore, b)
	}

	if len(cfg.ScyllaHosts) > 0 {
		cluster := gocql.NewCluster(cfg.ScyllaHosts...)
		cluster.Keyspace = cfg.ScyllaKeyspace
		if cfg.ScyllaDatacenter != "" {
			cluster.PoolConfig.HostSelectionPolicy =
				gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.ScyllaDatacenter))
		}
		session, err := cluster.CreateSession()
		if err != nil {
			return nil, fmt.Errorf("connect scylla: %w", err)
		}
		b, err := scylla.New(scylla.Config{Session: session, CloseSession: true})
		if err != nil {
			return nil, err
		}
		registry.Register(identity.AppScylla, b)
	}

	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b, err := keyval.New(keyval.Config{Client: rdb, CloseClient: true})
		if err != nil {
			return nil, err
		}
		registry.Register(identity.AppAeroStore, b)
	}

	if len(registry.Apps()) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	return registry, nil
}
