package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/pos-register/internal/adapter/api"
	"github.com/rl1809/pos-register/internal/adapter/handler"
	"github.com/rl1809/pos-register/internal/adapter/messaging"
	"github.com/rl1809/pos-register/internal/adapter/presenter"
	"github.com/rl1809/pos-register/internal/adapter/storage"
	"github.com/rl1809/pos-register/internal/config"
	"github.com/rl1809/pos-register/internal/core/service"
	"github.com/rl1809/pos-register/internal/port"
)

const (
	shutdownTimeout = 5 * time.Second
	eventBuffer     = 1024
	// requestSlack keeps the router deadline past the submit deadline
	requestSlack = 5 * time.Second
)

// App is the assembled register: services, adapters and servers.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Catalog *service.CatalogService
	Cart    *service.CartService
	Orders  *service.OrderService
	Sales   *service.SalesService
	Session *service.SessionService

	Router http.Handler
	Health *handler.GRPCHandler

	closers []func() error
}

// New wires the register from cfg. Backing stores are dialed here; a store
// that is configured but unreachable fails startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	tokens := service.NewTokenStore()
	client := api.NewClient(api.Config{
		BaseURL:              cfg.API.BaseURL,
		Timeout:              cfg.API.Timeout,
		RetryMaxTries:        cfg.API.RetryMaxTries,
		RetryInitialInterval: cfg.API.RetryInitialInterval,
		RetryMaxElapsed:      cfg.API.RetryMaxElapsed,
	}, logger, api.WithTokenSource(tokens.Token))

	display, err := a.newPresenter()
	if err != nil {
		a.Close()
		return nil, err
	}

	cartStore, lock, err := a.cartStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	sales, err := a.salesRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Catalog = service.NewCatalogService(client, logger)
	a.Cart = service.NewCartService(a.Catalog, display, logger, service.WithCartStore(cartStore, cfg.TerminalID))

	orderOpts := []service.OrderOption{service.WithSalesRepository(sales)}
	if lock != nil {
		orderOpts = append(orderOpts, service.WithSubmitLock(lock))
	}
	if len(cfg.KafkaBrokers) > 0 {
		writer := messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		pub := messaging.NewKafkaPublisher(writer, cfg.ServiceName, eventBuffer, logger)
		a.closers = append(a.closers, pub.Close)
		orderOpts = append(orderOpts, service.WithEventPublisher(pub))
	}

	a.Orders = service.NewOrderService(client, a.Cart, a.Catalog, display, service.OrderConfig{
		TerminalID:    cfg.TerminalID,
		Currency:      cfg.CurrencyUnit(),
		SubmitTimeout: cfg.SubmitTimeout,
	}, logger, orderOpts...)
	a.Sales = service.NewSalesService(client, sales, a.Catalog, logger)
	a.Session = service.NewSessionService(client, tokens, a.Cart, logger)

	h := handler.NewHTTPHandler(handler.Services{
		Catalog: a.Catalog,
		Cart:    a.Cart,
		Orders:  a.Orders,
		Sales:   a.Sales,
		Session: a.Session,
	}, cfg.CurrencyUnit(), time.Local, logger)
	a.Router = handler.NewRouter(h, logger, cfg.SubmitTimeout+requestSlack)
	a.Health = handler.NewGRPCHandler(a.Catalog, logger)

	return a, nil
}

// Start loads the catalog and restores the stored cart. A failed catalog
// load is logged; the register keeps running and can refresh later.
func (a *App) Start(ctx context.Context) {
	if _, err := a.Catalog.Refresh(ctx); err != nil {
		a.logger.Warn("initial catalog load failed", zap.Error(err))
		return
	}
	if err := a.Cart.Restore(ctx); err != nil {
		a.logger.Warn("cart restore failed", zap.Error(err))
	}
}

// Serve runs the HTTP and gRPC servers until ctx is cancelled or one of them
// fails, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", a.cfg.GRPCAddr, err)
	}

	grpcServer := grpc.NewServer()
	a.Health.Register(grpcServer)
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("gRPC server listening", zap.String("addr", a.cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		a.logger.Info("HTTP server stopped")

		a.Health.Shutdown()
		grpcServer.GracefulStop()
		a.logger.Info("gRPC server stopped")
		return err
	})

	return g.Wait()
}

// Close releases stores and flushes pending events, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newPresenter() (port.Presenter, error) {
	display := presenter.Multi{presenter.NewLogPresenter(a.logger)}

	var out io.Writer
	switch a.cfg.ReceiptOutput {
	case "":
		return display, nil
	case "-":
		out = os.Stdout
	default:
		f, err := os.OpenFile(a.cfg.ReceiptOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open receipt output: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		out = f
	}
	return append(display, presenter.NewReceiptPresenter(out)), nil
}

func (a *App) cartStore(ctx context.Context) (port.CartStore, port.SubmitLock, error) {
	if a.cfg.CartStore != config.StoreRedis {
		return storage.NewMemoryCartStore(), nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	a.logger.Info("connected to redis", zap.String("addr", a.cfg.RedisAddr))

	store := storage.NewRedisAdapter(rdb, a.cfg.CartTTL)
	if a.cfg.SharedLock {
		return store, store, nil
	}
	return store, nil, nil
}

func (a *App) salesRepository(ctx context.Context) (port.SalesRepository, error) {
	switch a.cfg.SalesStore {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", a.cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		a.logger.Info("connected to mysql")
		return storage.NewMySQLAdapter(db, a.cfg.TerminalID), nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.logger.Info("connected to postgres")
		return storage.NewPostgresAdapter(pool, a.cfg.TerminalID)

	default:
		return storage.NewMemorySalesRepository(), nil
	}
}
