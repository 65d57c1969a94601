package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/adapter/inbound/source"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/app"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/service"
)

type uploadFlags struct {
	action          string
	fieldName       string
	data            map[string]string
	headers         map[string]string
	withCredentials bool
	accept          []string
	maxConcurrent   int
	timeout         time.Duration
}

func newUploadCmd(st *state) *cobra.Command {
	f := &uploadFlags{}

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files and directories, printing progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.applyTo(cmd, &st.cfg.Upload)
			return runUpload(cmd, st.cfg, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.action, "action", "", "Upload endpoint, overrides upload.action")
	flags.StringVar(&f.fieldName, "field-name", "", "Multipart field carrying the file")
	flags.StringToStringVar(&f.data, "data", nil, "Extra form fields, key=value")
	flags.StringToStringVar(&f.headers, "header", nil, "Extra request headers, key=value")
	flags.BoolVar(&f.withCredentials, "with-credentials", false, "Send stored cookies with each upload")
	flags.StringSliceVar(&f.accept, "accept", nil, "Accepted types: .ext, mime/type or mime/*")
	flags.IntVar(&f.maxConcurrent, "max-concurrent", 0, "Upload at most this many files at once, 0 for no limit")
	flags.DurationVar(&f.timeout, "timeout", 0, "Per-file upload timeout")

	return cmd
}

// applyTo overrides only the settings given on the command line.
func (f *uploadFlags) applyTo(cmd *cobra.Command, cfg *config.UploadConfig) {
	changed := cmd.Flags().Changed
	if changed("action") {
		cfg.Action = f.action
	}
	if changed("field-name") {
		cfg.FieldName = f.fieldName
	}
	if changed("data") {
		cfg.Data = f.data
	}
	if changed("header") {
		cfg.Headers = f.headers
	}
	if changed("with-credentials") {
		cfg.WithCredentials = f.withCredentials
	}
	if changed("accept") {
		cfg.Accept = f.accept
	}
	if changed("max-concurrent") {
		cfg.MaxConcurrent = f.maxConcurrent
	}
	if changed("timeout") {
		cfg.TimeoutMS = int(f.timeout / time.Millisecond)
	}
}

func runUpload(cmd *cobra.Command, cfg *config.Config, paths []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer components.Close()

	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		abs = append(abs, a)
	}
	batch, err := source.Collect(osfs.New("/"), abs...)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return fmt.Errorf("no files found")
	}

	out := cmd.OutOrStdout()
	printer := &progressPrinter{out: out}
	manager, err := components.NewManager(cfg.Upload, service.WithHooks(printer.hooks()))
	if err != nil {
		return err
	}

	manager.Submit(batch)

	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		fmt.Fprintln(out, "interrupted, canceling uploads")
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		_ = manager.Close(canceled)
		<-done
	}
	_ = manager.Close(context.Background())

	return summarize(out, len(batch), manager.Snapshot())
}

// progressPrinter writes one line per hook call.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *progressPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *progressPrinter) hooks() service.Hooks {
	return service.Hooks{
		OnProgress: func(percentage int, f domain.FileRecord) {
			p.printf("%-9s %3d%% %s\n", "uploading", percentage, f.Name)
		},
		OnSuccess: func(_ any, f domain.FileRecord) {
			p.printf("%-9s %3d%% %s\n", "done", f.Percentage, f.Name)
		},
		OnError: func(err error, f domain.FileRecord) {
			p.printf("%-9s      %s: %v\n", "failed", f.Name, err)
		},
	}
}

// summarize reports the final roster and fails when any upload failed.
func summarize(out io.Writer, selected int, roster domain.Roster) error {
	var succeeded, failed int
	for _, rec := range roster.Records() {
		switch rec.Status {
		case domain.StatusSuccess:
			succeeded++
		case domain.StatusError:
			failed++
		}
	}
	skipped := selected - roster.Len()

	fmt.Fprintf(out, "%d uploaded, %d failed, %d skipped\n", succeeded, failed, skipped)
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, roster.Len())
	}
	return nil
}
