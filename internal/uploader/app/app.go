package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/redis/go-redis/v9"

	httpHandler "github.com/anthanhphan/go-upload-orchestrator/internal/uploader/adapter/inbound/http"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/adapter/inbound/source"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/adapter/outbound/http_transfer"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/adapter/outbound/s3_transfer"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/interceptor"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/service"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/idgen"
	"github.com/anthanhphan/gosdk/logger"
)

const shutdownTimeout = 30 * time.Second

// Bootstrap loads configuration and initializes the logger.
func Bootstrap(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitLogger(&cfg.Logger)
	return cfg, nil
}

// Components are the pieces every uploader mode shares.
type Components struct {
	Transfer    port.TransferPort
	IDGen       *idgen.Snowflake
	Interceptor interceptor.Interceptor

	closers []func() error
}

// Build wires the id generator, transfer port and admission interceptors from cfg.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}

	// 1. Id generator, optionally on the shared Redis clock
	nodeID := cfg.IDGen.NodeID
	if nodeID < 0 {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname for node id: %w", err)
		}
		nodeID = idgen.NodeIDFromName(host)
		logger.Infow("Derived node id from hostname", "host", host, "node_id", nodeID)
	}

	var clock idgen.Clock = idgen.SystemClock{}
	switch cfg.IDGen.Clock {
	case "", "system":
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, redisClient.Close)
		clock = idgen.NewRedisClock(redisClient, time.Second)
	default:
		return nil, fmt.Errorf("unknown idgen clock %q", cfg.IDGen.Clock)
	}

	idGen, err := idgen.New(nodeID, clock)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to init snowflake: %w", err)
	}
	c.IDGen = idGen

	// 2. Transfer port
	switch cfg.Transport.Kind {
	case "", "http":
		transfer, err := http_transfer.New(cfg.Transport.Breaker)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Transfer = transfer
	case "s3":
		transfer, err := s3_transfer.New(ctx, cfg.Transport.S3, cfg.Transport.Breaker)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Transfer = transfer
	default:
		_ = c.Close()
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	// 3. Admission
	c.Interceptor = NewInterceptor(cfg.Upload)

	return c, nil
}

// NewInterceptor builds the size and type filters configured for uploads.
func NewInterceptor(cfg config.UploadConfig) interceptor.Interceptor {
	return interceptor.Chain(
		interceptor.MaxSize(cfg.MaxFileSize),
		interceptor.AcceptTypes(cfg.Accept...),
	)
}

// NewManager builds a manager on the shared components. opts are applied
// after the configured interceptor, so callers may replace it.
func (c *Components) NewManager(cfg config.UploadConfig, opts ...service.Option) (*service.Manager, error) {
	all := append([]service.Option{service.WithInterceptor(c.Interceptor)}, opts...)
	return service.NewManager(cfg, c.Transfer, c.IDGen, all...)
}

func (c *Components) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// App serves the roster API in front of a long-lived manager.
type App struct {
	cfg        *config.Config
	components *Components
	manager    *service.Manager
	server     *httpHandler.Server
}

func New(cfg *config.Config) (*App, error) {
	components, err := Build(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	spoolRoot := filepath.Join(os.TempDir(), "uploader-spool")
	spool := osfs.New(spoolRoot)

	manager, err := components.NewManager(cfg.Upload, spoolCleanup()...)
	if err != nil {
		_ = components.Close()
		return nil, fmt.Errorf("failed to init upload manager: %w", err)
	}

	return &App{
		cfg:        cfg,
		components: components,
		manager:    manager,
		server:     httpHandler.NewServer(cfg, manager, spool),
	}, nil
}

func (a *App) Run() error {
	logger.Infow("Uploader API starting", "addr", a.cfg.Server.Addr, "action", a.cfg.Upload.Action)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("Uploader API exited unexpectedly", "error", err.Error())
	}

	logger.Info("Shutting down uploader")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Stop(ctx); err != nil {
		logger.Errorw("Uploader API shutdown error", "error", err.Error())
		runErr = errors.Join(runErr, err)
	}
	if err := a.manager.Close(ctx); err != nil {
		logger.Warnw("Uploads still running at shutdown were canceled", "error", err.Error())
	}
	if err := a.components.Close(); err != nil {
		logger.Errorw("Closing components failed", "error", err.Error())
	}

	return runErr
}

// spoolCleanup deletes spooled drop-zone files once nothing needs them: when a
// record settles or is removed, and when a file never becomes a record.
func spoolCleanup() []service.Option {
	return []service.Option{
		service.WithHooks(service.Hooks{
			OnSuccess: func(_ any, rec domain.FileRecord) { discardSpooled(rec) },
			OnError:   func(_ error, rec domain.FileRecord) { discardSpooled(rec) },
			OnRemove:  discardSpooled,
			OnChange: func(rec domain.FileRecord) {
				logger.Infow("File settled", "file_id", rec.ID, "file_name", rec.Name, "status", string(rec.Status))
			},
		}),
		service.WithRelease(func(raw domain.RawFile) { discardRaw("", raw) }),
		service.WithHookErrorHandler(func(err error) {
			logger.Errorw("Hook failed", "error", err.Error())
		}),
	}
}

func discardSpooled(rec domain.FileRecord) {
	discardRaw(rec.ID, rec.Raw)
}

func discardRaw(id string, raw domain.RawFile) {
	f, ok := raw.(*source.File)
	if !ok {
		return
	}
	if err := f.Discard(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnw("Removing spooled file failed", "file_id", id, "path", f.Path(), "error", err.Error())
	}
}
