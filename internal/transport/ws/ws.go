package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arcsolve/relay/internal/pubsub"
	"github.com/arcsolve/relay/internal/service/models/message"
	"github.com/arcsolve/relay/pkg/http/middleware/trace"
	"github.com/arcsolve/relay/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

type service interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	SendMessage(ctx context.Context, roomID, senderID string, body json.RawMessage, tempID string) (message.Message, error)
	Backfill(ctx context.Context, roomID, userID string, limit int) ([]message.Message, error)
	Ack(ctx context.Context, roomID, userID string, lastReadID int64) error
}

type tokenVerifier interface {
	Verify(token string) (string, error)
}

// WSTransport is the realtime gateway: it upgrades client connections, runs
// the per-connection protocol, and fans events arriving on the shared pub/sub
// channel out to local room members.
type WSTransport struct {
	server   *http.Server
	router   *chi.Mux
	service  service
	verifier tokenVerifier
	registry *Registry
	broker   pubsub.Broker
	sub      pubsub.Subscription
	upgrader websocket.Upgrader

	authWindow    time.Duration
	writeTimeout  time.Duration
	opTimeout     time.Duration
	maxBodyBytes  int64
	backfillLimit int
	rateRPS       float64
	rateBurst     int
}

func NewWSTransport(service service, verifier tokenVerifier, registry *Registry, broker pubsub.Broker) *WSTransport {
	router := newRouter()

	gw := &WSTransport{
		server:   newServer(router),
		router:   router,
		service:  service,
		verifier: verifier,
		registry: registry,
		broker:   broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},

		authWindow:    durationOr("gateway.auth_window", 10*time.Second),
		writeTimeout:  durationOr("gateway.write_timeout", 5*time.Second),
		opTimeout:     durationOr("gateway.op_timeout", 10*time.Second),
		maxBodyBytes:  int64Or("gateway.max_body_bytes", 64<<10),
		backfillLimit: intOr("gateway.backfill_limit", 100),
		rateRPS:       floatOr("gateway.rate_limit.rps", 10),
		rateBurst:     intOr("gateway.rate_limit.burst", 20),
	}

	return gw
}

// RegisterRoutes registers the routes for the WSTransport.
func (g *WSTransport) RegisterRoutes() {
	g.router.Get("/health", g.health)
	g.router.Get("/ws", g.serveWS)
}

// Run opens the channel subscription pump and serves until Shutdown.
func (g *WSTransport) Run() error {
	sub, err := g.broker.Subscribe(context.Background())
	if err != nil {
		return err
	}
	g.sub = sub
	go g.pump(sub)

	return g.server.ListenAndServe()
}

func (g *WSTransport) Shutdown(ctx context.Context) error {
	if g.sub != nil {
		_ = g.sub.Close()
	}
	return g.server.Shutdown(ctx)
}

// Handler exposes the router.
func (g *WSTransport) Handler() http.Handler {
	return g.router
}

func (g *WSTransport) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (g *WSTransport) serveWS(w http.ResponseWriter, r *http.Request) {
	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	go newConn(sock, g).run()
}

// pump forwards channel messages to local rooms. The dedup key is the event
// type plus the message id, so a redelivered event is dropped within the
// cache's TTL window.
func (g *WSTransport) pump(sub pubsub.Subscription) {
	for msg := range sub.Messages() {
		roomID := strings.TrimPrefix(msg.Topic, "room:")

		var evt struct {
			Type    string `json:"type"`
			Message *struct {
				ID int64 `json:"id"`
			} `json:"message"`
		}
		eventKey := ""
		if err := json.Unmarshal(msg.Payload, &evt); err == nil && evt.Message != nil {
			eventKey = evt.Type + ":" + strconv.FormatInt(evt.Message.ID, 10)
		}

		g.registry.Broadcast(roomID, eventKey, msg.Payload)
	}
}

func (g *WSTransport) subscribeRoom(ctx context.Context, roomID string) {
	if g.sub == nil {
		return
	}
	if err := g.sub.Add(ctx, pubsub.RoomTopic(roomID)); err != nil {
		slog.Error("failed to subscribe room channel", "room_id", roomID, "error", err)
	}
}

func (g *WSTransport) unsubscribeRoom(ctx context.Context, roomID string) {
	if g.sub == nil {
		return
	}
	if err := g.sub.Remove(ctx, pubsub.RoomTopic(roomID)); err != nil {
		slog.Error("failed to unsubscribe room channel", "room_id", roomID, "error", err)
	}
}

func (g *WSTransport) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(g.rateRPS), g.rateBurst)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))
	router.Use(trace.NewTraceMiddleware)

	allowedOrigins := viper.GetStringSlice("server.ws.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.ws.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.ws.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.ws.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.ws.cors.allow_credentials")
	maxAge := viper.GetInt("server.ws.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.ws.port"),
		Handler: router,
	}
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := viper.GetDuration(key); v != 0 {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := viper.GetInt(key); v != 0 {
		return v
	}
	return fallback
}

func int64Or(key string, fallback int64) int64 {
	if v := viper.GetInt64(key); v != 0 {
		return v
	}
	return fallback
}

func floatOr(key string, fallback float64) float64 {
	if v := viper.GetFloat64(key); v != 0 {
		return v
	}
	return fallback
}
