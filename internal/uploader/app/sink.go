package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/anthanhphan/go-upload-orchestrator/internal/sink"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/gosdk/logger"
)

// RunSink serves the local upload receiver until a shutdown signal arrives.
func RunSink(cfg *config.Config) error {
	sinkCfg := cfg.Sink
	dir, err := filepath.Abs(sinkCfg.Dir)
	if err != nil {
		return fmt.Errorf("resolve sink dir: %w", err)
	}
	sinkCfg.Dir = dir
	server := sink.NewServer(sinkCfg, osfs.New("/"))

	logger.Infow("Upload sink starting", "addr", sinkCfg.Addr, "dir", dir)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("sink server failed: %w", err)
		logger.Errorw("Upload sink exited unexpectedly", "error", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Errorw("Upload sink shutdown error", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
