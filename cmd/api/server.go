package main

import (
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/auth"
	"github.com/PaulBabatuyi/relaychat/internal/chat"
	"github.com/PaulBabatuyi/relaychat/internal/config"
	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/PaulBabatuyi/relaychat/internal/dispatch"
	"github.com/PaulBabatuyi/relaychat/internal/hub"
	"github.com/PaulBabatuyi/relaychat/internal/middleware"
	"github.com/PaulBabatuyi/relaychat/internal/presence"
	"github.com/PaulBabatuyi/relaychat/internal/rpc"
	"github.com/PaulBabatuyi/relaychat/internal/session"
	"github.com/PaulBabatuyi/relaychat/internal/socket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// application holds every long-lived component. It is built once in main
// and shared by the HTTP, websocket and gRPC entry points.
type application struct {
	cfg config.Config
	log *zap.Logger

	users    data.UsersStore
	chats    data.ChatStore
	sessions *session.Store
	signer   *auth.CookieSigner

	registry   *hub.Registry
	presence   *presence.Notifier
	router     *chat.Router
	dispatcher *dispatch.Dispatcher

	authLimiter *middleware.LimiterStore
	sendLimiter *middleware.LimiterStore
}

// newApplication wires the registry, router and dispatcher over the chosen
// stores.
func newApplication(cfg config.Config, log *zap.Logger, users data.UsersStore, chats data.ChatStore, signer *auth.CookieSigner) *application {
	reg := hub.New(log)
	notifier := presence.New(reg, log)
	router := chat.NewRouter(chats, users, reg, log)

	// small burst to allow a couple of quick retries
	authLimiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	sendLimiter := middleware.NewLimiterStore(cfg.SendRatePerMinute, cfg.SendRatePerMinute/4+1, time.Minute)

	return &application{
		cfg:         cfg,
		log:         log,
		users:       users,
		chats:       chats,
		sessions:    session.NewStore(),
		signer:      signer,
		registry:    reg,
		presence:    notifier,
		router:      router,
		authLimiter: authLimiter,
		sendLimiter: sendLimiter,
		dispatcher: dispatch.New(dispatch.Options{
			Router:      router,
			Presence:    notifier,
			Registry:    reg,
			SendLimiter: sendLimiter,
			StrictJoin:  cfg.StrictJoin,
			Logger:      log,
		}),
	}
}

// routes builds the gin engine.
func (app *application) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), app.requestLogger())

	r.GET("/healthz", app.healthz)
	r.GET("/ws", socket.NewHandler(app.dispatcher, app.socketAuth, app.log).ServeWS)

	authGroup := r.Group("/auth")
	authGroup.POST("/register", middleware.RateLimit(app.authLimiter), app.register)
	authGroup.POST("/login", middleware.RateLimit(app.authLimiter), app.login)
	authGroup.POST("/logout", app.logout)

	api := r.Group("/api", app.requireSession())
	api.GET("/me", app.me)
	api.GET("/users", app.listUsers)
	api.GET("/chats", app.listChats)
	api.POST("/chats/repair", app.repairChat)
	api.GET("/messages", app.loadHistory)
	api.POST("/messages", app.sendMessage)

	return r
}

// grpcServer returns a gRPC server exposing the event stream.
func (app *application) grpcServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainStreamInterceptor(
		middleware.RateLimitStreamInterceptor(app.authLimiter),
		rpc.AuthStreamInterceptor(app.resolveToken),
	))
	s := grpc.NewServer(opts...)
	rpc.RegisterEventServiceServer(s, rpc.NewServer(app.dispatcher, app.log))
	return s
}

// close tears down process-lifetime state.
func (app *application) close() {
	app.registry.Close()
	app.sessions.Clear()
	app.authLimiter.Stop()
	app.sendLimiter.Stop()
}
