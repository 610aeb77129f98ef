// Command engine is the edge inference pipeline's process entrypoint. It
// wires every singleton in dependency order, serves health and Prometheus
// endpoints on a side port, and drives the tick loop until a termination
// signal arrives. Mirrors the teacher's main.go/main_metrics.go shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/axis-is/edge-inference/internal/bus"
	"github.com/axis-is/edge-inference/internal/config"
	"github.com/axis-is/edge-inference/internal/core"
	"github.com/axis-is/edge-inference/internal/inference"
	"github.com/axis-is/edge-inference/internal/video"

	// Blank-imported for their init()-time module.Register side effects —
	// the static registration set spec §9 asks for.
	_ "github.com/axis-is/edge-inference/internal/modules/detection"
	_ "github.com/axis-is/edge-inference/internal/modules/framepublisher"
)

func main() {
	configPath := flag.String("config", "/usr/local/packages/edge_inference/localdata/config.json", "path to the engine configuration document")
	flag.Parse()

	logger := initLogger()
	defer logger.Sync()
	// The built-in modules log through zap.L(); route it to this logger.
	zap.ReplaceGlobals(logger)

	logger.Info("starting edge inference engine")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	brokers := []string{getEnv("BUS_BROKERS", "localhost:9092")}

	publisher, err := bus.NewPublisher(logger.Named("bus"), brokers)
	if err != nil {
		logger.Fatal("failed to construct bus publisher", zap.Error(err))
	}
	defer publisher.Close()

	fpCfg := cfg.Sub("frame_publisher")
	cameraID := fpCfg.GetString("camera_id", cfg.GetString("camera_id", "axis-camera-001"))

	subscriber, err := bus.NewSubscriber(logger.Named("bus"), brokers, "edge-inference-"+cameraID)
	if err != nil {
		logger.Fatal("failed to construct bus subscriber", zap.Error(err))
	}
	defer subscriber.Close()

	healthPort := cfg.GetInt("health_port", 8081)
	go startHealthServer(logger, healthPort)

	orchestrator, err := core.New(logger, cfg, core.Options{
		Driver:    newVideoDriver(),
		Runtime:   newAcceleratorRuntime(logger),
		Publisher: publisher,
	})
	if err != nil {
		logger.Fatal("failed to construct orchestrator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requestTopic := "axis-is/camera/" + cameraID + "/frame_request"
	if err := wireFrameRequestSubscription(ctx, orchestrator, subscriber, requestTopic); err != nil {
		logger.Warn("failed to subscribe to frame requests", zap.Error(err))
	}

	orchestrator.Start()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan struct{})
	go func() {
		orchestrator.Run(ctx)
		close(runDone)
	}()

	<-sigchan
	logger.Info("interrupt detected, shutting down")
	cancel()
	<-runDone
	orchestrator.Shutdown()
	logger.Info("edge inference engine stopped")
}

func initLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return logger
}

func startHealthServer(logger *zap.Logger, port int) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":"edge-inference","timestamp":"%s"}`,
			time.Now().UTC().Format(time.RFC3339))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","service":"edge-inference","timestamp":"%s"}`,
			time.Now().UTC().Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	logger.Info("starting health check server", zap.Int("port", port))
	if err := server.ListenAndServe(); err != nil {
		logger.Error("health server error", zap.Error(err))
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// newVideoDriver constructs the platform video capture driver. The
// underlying capture driver is an external collaborator (spec §1); this
// returns platformVideoDriver, which in this build reports no frame ready on
// every call until it is linked against the board's capture SDK. It is the
// sole seam a test harness needs to replace to run the engine offline.
func newVideoDriver() video.Driver {
	return platformVideoDriver{}
}

// newAcceleratorRuntime constructs the accelerator connection. The
// accelerator runtime itself is an external collaborator (spec §1); a real
// build links against the board's inference runtime here.
func newAcceleratorRuntime(logger *zap.Logger) inference.Runtime {
	return platformAcceleratorRuntime{logger: logger}
}
