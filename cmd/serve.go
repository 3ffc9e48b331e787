package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ckpt-cli/internal/journal"
	"github.com/sells-group/ckpt-cli/internal/monitoring"
	"github.com/sells-group/ckpt-cli/internal/provenance"
	"github.com/sells-group/ckpt-cli/internal/publish"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lineage query server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		j, err := initJournal(ctx)
		if err != nil {
			return err
		}
		defer j.Close()

		pub := publish.New(newStoreClient(), provenance.New(), publish.WithJournal(j))
		collector := monitoring.NewCollector(j)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
		}))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
			runs, err := j.ListRuns(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
		})

		r.Get("/api/runs/{suffix}/lineage", func(w http.ResponseWriter, r *http.Request) {
			recs, err := j.ListRun(r.Context(), chi.URLParam(r, "suffix"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"records": recs})
		})

		r.Get("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
			snap, err := collector.Collect(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Post("/api/records/{id}/reupload", reuploadHandler(j, pub))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func reuploadHandler(j journal.Journal, pub *publish.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID := chi.URLParam(r, "id")

		rec, err := j.GetByRecordID(r.Context(), recordID)
		if err != nil {
			writeError(w, err)
			return
		}
		if rec == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not in journal"})
			return
		}
		if rec.ArtifactAttached {
			writeJSON(w, http.StatusOK, map[string]any{"record_id": recordID, "artifact_attached": true})
			return
		}

		if err := pub.Reupload(r.Context(), rec.RecordID, rec.LocalArtifactPath); err != nil {
			zap.L().Error("reupload failed",
				zap.String("record_id", recordID),
				zap.Error(err),
			)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record_id": recordID, "artifact_attached": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
