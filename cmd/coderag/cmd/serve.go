package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/server"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the HTTP API exposing retrieval (/search/retrieve), indexing
(/index/upsert, /index/by-filter), evaluation (/evaluate), and health
(/healthz) endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			gin.SetMode(ginMode(cfg.Server.Mode))

			opts := []server.Option{server.WithLogger(a.logger)}
			if cfg.Eval.RunLogPath != "" {
				runLog, err := eval.OpenRunLog(cfg.Eval.RunLogPath)
				if err != nil {
					a.logger.Warn("run_log_open_failed", "path", cfg.Eval.RunLogPath, "error", err)
				} else {
					defer runLog.Close()
					opts = append(opts, server.WithRunLog(runLog))
				}
			}

			srv := server.New(a.engine, a.coord, a.adapterDeps(), opts...)
			httpSrv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server_started", "port", cfg.Server.Port)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-cmd.Context().Done():
				a.logger.Info("server_stopping")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the configured server port")
	return cmd
}

func ginMode(mode string) string {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		return mode
	default:
		return gin.ReleaseMode
	}
}
