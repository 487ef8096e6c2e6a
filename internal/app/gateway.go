package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcsolve/relay/internal/auth"
	"github.com/arcsolve/relay/internal/dal/postgres"
	"github.com/arcsolve/relay/internal/otel"
	"github.com/arcsolve/relay/internal/service/services/chatsvc"
	"github.com/arcsolve/relay/internal/transport/ws"
)

// GatewayApp represents the realtime gateway application.
type GatewayApp struct {
	chatSvc        *chatsvc.ChatService
	transport      *ws.WSTransport
	postgresClient *postgres.Client
	closeBroker    func() error
	otelController *otel.OtelController
}

// MustNewGatewayApp creates a new gateway application.
func MustNewGatewayApp() *GatewayApp {
	otelController := otel.MustInitOtel("gateway")

	postgresClient := postgres.MustNewClient()
	broker, closeBroker := mustNewBroker()

	chatSvc := chatsvc.MustNewChatService(
		chatsvc.WithPostgresClient(postgresClient),
	)

	transport := ws.NewWSTransport(chatSvc, auth.MustNewVerifier(), ws.NewRegistry(), broker)
	transport.RegisterRoutes()

	return &GatewayApp{
		chatSvc:        chatSvc,
		transport:      transport,
		postgresClient: postgresClient,
		closeBroker:    closeBroker,
		otelController: otelController,
	}
}

// Run starts the gateway.
// Tracks interrupt signal to gracefully shut down the application.
func (a *GatewayApp) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("Starting websocket gateway")
		if err := a.transport.Run(); err != nil {
			slog.Error("Gateway server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("Gateway shutdown error", "error", err)
	} else {
		slog.Info("Gateway stopped gracefully")
	}

	if err := a.closeBroker(); err != nil {
		slog.Error("Broker connection close error", "error", err)
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Tracer shutdown error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
