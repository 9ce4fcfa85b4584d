package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/auth"
	"github.com/PaulBabatuyi/relaychat/internal/config"
	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/PaulBabatuyi/relaychat/internal/db"
	"github.com/PaulBabatuyi/relaychat/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	// Read configuration from .env and the environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	os.Exit(serve(cfg, logg))
}

// serve runs the server and flushes the logger before reporting the exit
// code, so the final error is never lost to os.Exit.
func serve(cfg config.Config, logg *zap.Logger) int {
	defer func() { _ = logg.Sync() }()

	if err := run(cfg, logg); err != nil {
		logg.Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, logg *zap.Logger) error {
	ctx := context.Background()

	// Initialize the selected storage backend
	users, chats, closeStores, err := openStores(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeStores()

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}

	app := newApplication(cfg, logg, users, chats, signer)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logg.Info("HTTP server listening", zap.String("addr", httpServer.Addr), zap.String("backend", cfg.StoreBackend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "http server")
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCEnabled() {
		var opts []grpc.ServerOption
		// If TLS certs are configured, create server credentials and require TLS
		if cfg.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return errors.Wrap(err, "failed to load TLS certs")
			}
			opts = append(opts, grpc.Creds(creds))
		}
		grpcServer = app.grpcServer(opts...)

		listenAddr := fmt.Sprintf(":%s", cfg.GRPCPort)
		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return errors.Wrap(err, "failed to listen")
		}
		go func() {
			logg.Info("gRPC server listening", zap.String("addr", listenAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- errors.Wrap(err, "grpc server")
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logg.Error("listener failed, shutting down", zap.Error(err))
	}

	// drop every live connection first so streams and sockets end promptly
	app.close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Warn("http shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	return nil
}

// openStores builds the backend named by STORE_BACKEND. The returned
// func releases its clients.
func openStores(ctx context.Context, cfg config.Config, logg *zap.Logger) (data.UsersStore, data.ChatStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		dbClient, err := openMongo(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = dbClient.Close(context.Background()) }
		return data.NewMongoUsersStore(dbClient.UsersCollection()),
			data.NewMongoChatStore(dbClient.UserChatsCollection(), dbClient.MessagesCollection()),
			closeFn, nil

	case config.BackendRedis:
		rdb, err := db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		chats := data.NewRedisChatStore(rdb)

		// users live in MongoDB when it is configured, otherwise in memory
		if cfg.MongoURI != "" {
			dbClient, err := openMongo(ctx, cfg)
			if err != nil {
				_ = rdb.Close()
				return nil, nil, nil, err
			}
			closeFn := func() {
				_ = rdb.Close()
				_ = dbClient.Close(context.Background())
			}
			return data.NewMongoUsersStore(dbClient.UsersCollection()), chats, closeFn, nil
		}
		logg.Warn("redis backend without MONGODB_URI: user accounts are kept in memory")
		return data.NewMemoryStore(), chats, func() { _ = rdb.Close() }, nil

	default:
		logg.Info("demo mode: all data is kept in memory")
		mem := data.NewMemoryStore()
		return mem, mem, func() {}, nil
	}
}

func openMongo(ctx context.Context, cfg config.Config) (*db.Client, error) {
	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		_ = dbClient.Close(ctx)
		return nil, err
	}
	return dbClient, nil
}

// newSigner builds the cookie signer. With SESSION_KEYS the signer can
// verify cookies from older keys so rotation is possible; with neither
// setting a random per-process key is used, which fits sessions that do not
// survive a restart anyway.
func newSigner(cfg config.Config) (*auth.CookieSigner, error) {
	keys, err := cfg.SigningKeys()
	if err != nil {
		return nil, err
	}
	switch {
	case len(keys) > 0:
		return auth.NewCookieSignerFromKeys(keys, cfg.SessionActiveKid, 0)
	case cfg.SessionSecret != "":
		return auth.NewCookieSigner(cfg.SessionSecret, 0), nil
	default:
		return auth.NewRandomCookieSigner()
	}
}
