package chatpushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-chatpush-service/chatpushservice/config"
	"github.com/tinywideclouds/go-chatpush-service/internal/api"
	"github.com/tinywideclouds/go-chatpush-service/internal/metrics"
	"github.com/tinywideclouds/go-chatpush-service/internal/pipeline"
)

const (
	PushChatPath       = "/api/v1/push/chat"
	LegacyPushChatPath = "/.netlify/functions/push_chat"
	MetricsPath        = "/internal/metrics"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.ChatMessage]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case only the
// HTTP push endpoint is served.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	fanOut *pipeline.FanOut,
	gate api.Authorizer,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Optional ingestion pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.ChatMessage]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.ChatEventTransformer,
			pipeline.NewProcessor(fanOut, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	pushAPI := api.NewPushAPI(gate, fanOut, m, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// Method-agnostic patterns: the handler answers preflight and rejects
	// everything but POST with 405.
	pushHandler := corsMiddleware(http.HandlerFunc(pushAPI.PushChat))
	mux.Handle(PushChatPath, pushHandler)
	mux.Handle(LegacyPushChatPath, pushHandler)

	mux.Handle("GET "+MetricsPath, m.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Chat event pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
