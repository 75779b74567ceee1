package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aistore-labs/depopt"
)

// httpServer exposes the reference daemon's HTTP surface (SPEC_FULL.md
// 11): /metadata for polling the current snapshot, /register for the
// register_missing_import operation, /healthz, and /metrics.
type httpServer struct {
	opt *depopt.Optimizer
	log logrus.FieldLogger
	srv *http.Server
}

func newHTTPServer(addr string, opt *depopt.Optimizer, log logrus.FieldLogger) *httpServer {
	h := &httpServer{opt: opt, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", h.handleMetadata)
	mux.HandleFunc("/register", h.handleRegister)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	h.srv = &http.Server{Addr: addr, Handler: mux}
	return h
}

func (h *httpServer) Run() error {
	h.log.Infof("depoptd: listening on %s", h.srv.Addr)
	err := h.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (h *httpServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

func (h *httpServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	ssr := r.URL.Query().Get("ssr") == "true"
	meta := h.opt.Metadata(ssr)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}

func (h *httpServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID  string `json:"id"`
		Src string `json:"src"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	info, err := h.opt.RegisterMissingImport(ctx, body.ID, body.Src)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

func (h *httpServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
