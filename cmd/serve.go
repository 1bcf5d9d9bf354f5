package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/econfeed/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background remediation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newMux(env),
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			env.Engine.Start(ctx)
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "serve: listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// newMux builds the API surface: connector health, fetch, alerts,
// scorecards, and remediation job control.
func newMux(env *appEnv) *http.ServeMux {
	mux := http.NewServeMux()
	svc := env.Service

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /fetch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConnectorID string    `json:"connector_id"`
			ItemID      string    `json:"item_id"`
			Region      string    `json:"region"`
			Start       time.Time `json:"start"`
			End         time.Time `json:"end"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if req.ConnectorID == "" || req.ItemID == "" {
			writeError(w, http.StatusBadRequest, eris.New("connector_id and item_id are required"))
			return
		}
		result, err := svc.FetchAndProcess(r.Context(), req.ConnectorID, model.FetchRequest{
			ItemID: req.ItemID,
			Region: req.Region,
			Start:  req.Start,
			End:    req.End,
		})
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("GET /connectors/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.HealthStatuses(r.Context()))
	})

	mux.HandleFunc("GET /alerts", func(w http.ResponseWriter, r *http.Request) {
		includeResolved := r.URL.Query().Get("all") == "true"
		alerts, err := svc.Alerts(r.Context(), includeResolved)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	})

	mux.HandleFunc("POST /alerts/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			By string `json:"by"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.By == "" {
			body.By = "api"
		}
		if err := svc.AcknowledgeAlert(r.Context(), r.PathValue("id"), body.By); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	})

	mux.HandleFunc("POST /alerts/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ResolveAlert(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	})

	mux.HandleFunc("GET /scorecard", func(w http.ResponseWriter, r *http.Request) {
		connectorID := r.URL.Query().Get("connector")
		if connectorID == "" {
			writeError(w, http.StatusBadRequest, eris.New("connector query parameter is required"))
			return
		}
		period := model.ScorecardPeriod(r.URL.Query().Get("period"))
		if period == "" {
			period = model.Period24h
		}
		card, err := svc.Scorecard(r.Context(), connectorID, period)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, card)
	})

	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		jobs, err := svc.Jobs(r.Context(), r.URL.Query().Get("connector"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	})

	mux.HandleFunc("POST /jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CancelJob(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	})

	mux.HandleFunc("POST /jobs/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RetryJob(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "retrying"})
	})

	mux.HandleFunc("DELETE /jobs/completed", func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.ClearCompletedJobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
	})

	mux.HandleFunc("GET /remediation/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.RemediationConfig(r.Context()))
	})

	mux.HandleFunc("PUT /remediation/config", func(w http.ResponseWriter, r *http.Request) {
		// Partial update: omitted fields keep their current values.
		rc := svc.RemediationConfig(r.Context())
		if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if err := svc.UpdateRemediationConfig(r.Context(), rc); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.RemediationConfig(r.Context()))
	})

	return mux
}
