package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for lifecycle operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Store.Ping(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/process", operationHandler(env.Engine.ProcessEnrichment))
			r.Post("/reconcile", operationHandler(env.Engine.ReconcileBufferChanges))
			r.Post("/promote", operationHandler(env.Engine.PromoteToCategories))
			r.Post("/retry-failed", operationHandler(env.Engine.RetryFailed))

			r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
				entries, err := env.Engine.History(req.Context(), chi.URLParam(req, "tenant"), 20)
				if err != nil {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
					return
				}
				writeJSON(w, http.StatusOK, entries)
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// operationHandler adapts an engine operation to an HTTP endpoint. The
// operation runs synchronously under the tenant lease; the response is
// the operation result.
func operationHandler(op func(ctx context.Context, tenantID string) (*model.OpResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tenantID := chi.URLParam(req, "tenant")

		result, err := op(req.Context(), tenantID)
		if err != nil {
			zap.L().Error("webhook operation failed",
				zap.String("tenant", tenantID),
				zap.Error(err),
			)
			status := http.StatusInternalServerError
			if result == nil {
				// No result at all means the tenant or lease failed before
				// any work started.
				status = http.StatusConflict
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
