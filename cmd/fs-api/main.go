package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultLimit = 100

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	log := logging.New()
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load config", "err", err)
	}

	store, err := storage.New(storage.Config{
		Host:     cfg.ClickHouse.Host,
		Port:     cfg.ClickHouse.Port,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	})
	if err != nil {
		log.Fatalw("failed to connect to storage", "err", err)
	}
	defer store.Close()

	h := &apiHandler{store: store, log: log}

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: newRouter(h),
	}

	go func() {
		log.Infow("api server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("api server failed", "addr", server.Addr, "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("api server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
	log.Info("api server exited")
}

type apiHandler struct {
	store *storage.Store
	log   *logging.Logger
}

// newRouter mounts the query routes and the metrics endpoint.
func newRouter(h *apiHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/flows", h.flows).Methods("GET")
	r.HandleFunc("/api/v1/alerts", h.alerts).Methods("GET")
	r.HandleFunc("/api/v1/ml_alerts", h.mlAlerts).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

func (h *apiHandler) flows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.RecentFlows(r.Context(), limitParam(r))
	h.respond(w, rows, err)
}

func (h *apiHandler) alerts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.RecentAlerts(r.Context(), limitParam(r))
	h.respond(w, rows, err)
}

func (h *apiHandler) mlAlerts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.RecentMLAlerts(r.Context(), limitParam(r))
	h.respond(w, rows, err)
}

func (h *apiHandler) respond(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		h.log.Errorw("query failed", "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Errorw("failed to encode response", "err", err)
	}
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			return n
		}
	}
	return defaultLimit
}
