package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mailonline/chpusage/internal/api"
	"github.com/mailonline/chpusage/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST surface and the job worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

// pidFile records the PID of a foreground `serve` so `stop` can signal it.
type pidFile string

func pidFileFor(cfg config.Config) pidFile {
	return pidFile(filepath.Join(cfg.Storage.DataDir, "chpusage.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func (p pidFile) remove() { os.Remove(string(p)) }

// checkHealth returns the /health status code of a server on port, or an
// error when nothing answers.
func checkHealth(port int) (int, error) {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func runServer() error {
	fmt.Fprintf(stderr, "chpusage version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.APIToken == "" {
		return fmt.Errorf("server.api_token is not set; run `chpusage config set server.api_token <token>` or set CHPUSAGE_API_TOKEN")
	}

	pid := pidFileFor(cfg)
	if _, err := checkHealth(cfg.Server.Port); err == nil {
		if running, pidErr := pid.read(); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", running)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	if err := a.controller.Activate(); err != nil {
		return fmt.Errorf("scheduling daily sweep: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewAppHandler(api.AppDeps{
		Store:     a.store,
		Reporter:  a.reporter,
		Scheduler: a.controller,
		Token:     cfg.Server.APIToken,
		Media:     api.MediaOptions{Dir: a.mediaDir(), Author: cfg.Media.UploadAuthor},
		Logger:    a.logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pf := pidFileFor(cfg)
	pid, err := pf.read()
	if err != nil {
		return fmt.Errorf("not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err == nil {
		err = process.Signal(syscall.SIGTERM)
	}
	if err != nil {
		pf.remove()
		return fmt.Errorf("could not stop chpusage (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to chpusage (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	switch code, err := checkHealth(cfg.Server.Port); {
	case err != nil:
		printStatus("Server", "stopped")
	case code == http.StatusOK:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "error (HTTP %d)", code)
	}

	printStatus("CHP endpoint", "%s", orUnset(cfg.CHP.URL))
	printStatus("XML template", "%s", templateLabel(cfg.CHP))
	printStatus("Enabled types", "%s", orUnset(strings.Join(cfg.Posts.EnabledTypes, ", ")))
	printStatus("Slack", "%s", orUnset(cfg.Slack.Channel))
	printStatus("Retries", "%d every %s", cfg.Retry.Max, cfg.Retry.Delay)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return colorize(colorYellow, "not set")
	}
	return s
}

func templateLabel(c config.CHPConfig) string {
	switch {
	case strings.TrimSpace(c.XMLTemplate) != "":
		return "inline"
	case c.XMLTemplateFile != "":
		return c.XMLTemplateFile
	default:
		return orUnset("")
	}
}
