package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/app"
	"github.com/lanebridge/lane-relayer/internal/config"
	"github.com/lanebridge/lane-relayer/internal/laneloop"
	"github.com/lanebridge/lane-relayer/internal/storage"
	"github.com/lanebridge/lane-relayer/internal/webserver"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lane relayer main app",
	Run: func(cmd *cobra.Command, args []string) {
		startRelayer()
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}

func startRelayer() {
	loggerCfg, err := config.NewLoggerConfig()
	if err != nil {
		log.Fatalf("couldn't initialize logger config: %s", err)
	}
	logger, err := loggerCfg.Build()
	if err != nil {
		log.Fatalf("couldn't initialize logger: %s", err)
	}
	logger.Info("lane-relayer starts...")

	cfg, err := config.NewLaneRelayerConfig()
	if err != nil {
		logger.Fatal("cannot initialize relayer config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	// The storage has to be shared because of the LevelDB single process restriction.
	st, err := app.NewDefaultStorage(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create NewDefaultStorage", zap.Error(err))
	}
	defer func(st *storage.LevelDBStorage) {
		if err := st.Close(); err != nil {
			logger.Error("failed to close storage", zap.Error(err))
		}
	}(st)

	http.Handle("/metrics", webserver.NewPromWrapper(st, logger.Named("monitoring")))
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.PrometheusPort), nil)
		if err != nil {
			logger.Fatal("failed to serve metrics", zap.Error(err))
		}
	}()
	logger.Info("metrics handler set up")

	wg.Add(1)
	go func() {
		defer wg.Done()

		err := webserver.Run(ctx, st, logger.Named("webserver"), int(cfg.WebserverPort))
		if err != nil {
			logger.Error("WebServer exited with an error", zap.Error(err))
			cancel()
		}
	}()

	source, target, err := app.NewDefaultClients(cfg, st, logger)
	if err != nil {
		logger.Fatal("failed to create chain clients", zap.Error(err))
	}

	params, err := app.NewDefaultLoopParams(ctx, cfg, target, logger)
	if err != nil {
		logger.Fatal("failed to assemble lane loop params", zap.Error(err))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := laneloop.Run(ctx, params, source, target, logger.Named("laneloop")); err != nil {
			logger.Error("lane loop exited with an error", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		s := <-sigs
		logger.Info("Received termination signal, gracefully shutting down...",
			zap.String("signal", s.String()))
		cancel()
	}()

	wg.Wait()
}
