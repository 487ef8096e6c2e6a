package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/arcsolve/relay/internal/dal/postgres"
	documentrepo "github.com/arcsolve/relay/internal/dal/repositories/document/postgres"
	outboxrepo "github.com/arcsolve/relay/internal/dal/repositories/outbox/postgres"
	"github.com/arcsolve/relay/internal/otel"
	outboxworker "github.com/arcsolve/relay/internal/worker/outbox"
	"github.com/spf13/viper"
)

// RelayApp represents the outbox relay application. It runs one worker per
// profile; additional relay processes compete for the same rows safely.
type RelayApp struct {
	workers        []*outboxworker.Worker
	postgresClient *postgres.Client
	closeBroker    func() error
	otelController *otel.OtelController
}

// MustNewRelayApp creates a new relay application.
func MustNewRelayApp() *RelayApp {
	otelController := otel.MustInitOtel("relay")

	postgresClient := postgres.MustNewClient()
	broker, closeBroker := mustNewBroker()

	outboxRepo := outboxrepo.NewOutboxRepository(postgresClient.Pool())
	documentRepo := documentrepo.NewDocumentRepository(postgresClient.Pool())

	chatPublisher := outboxworker.NewChatPublisher(broker, viper.GetDuration("relay.chat.publish_timeout"))

	documentPublisher := outboxworker.NewDocumentPublisher(
		documentRepo,
		viper.GetString("relay.document.parser_base_url"),
		viper.GetDuration("relay.document.request_timeout"),
	)
	documentProfile := outboxworker.DocumentProfile()
	documentProfile.OnDead = documentPublisher.MarkFailed

	return &RelayApp{
		workers: []*outboxworker.Worker{
			outboxworker.NewWorker(outboxRepo, chatPublisher, outboxworker.ChatProfile()),
			outboxworker.NewWorker(outboxRepo, documentPublisher, documentProfile),
		},
		postgresClient: postgresClient,
		closeBroker:    closeBroker,
		otelController: otelController,
	}
}

// Run starts the relay workers.
// Tracks interrupt signal to gracefully shut down the application.
func (a *RelayApp) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}
	slog.Info("Relay workers started", "count", len(a.workers))

	<-stop
	slog.Info("Shutdown signal received")

	cancel()
	wg.Wait()
	slog.Info("Relay workers stopped gracefully")

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
