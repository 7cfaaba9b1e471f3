// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ingress exposes the collector's stateless HTTP submission
// endpoint. It shares the classification/persistence path with the TCP
// listener; a submitted body is the raw record with no envelope.
package ingress

import (
	"encoding/json"
	"errors"
	"flag"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iyemte/collector-agent-and-server/internal/gateway"
	"github.com/iyemte/collector-agent-and-server/internal/ingest"
	"github.com/iyemte/collector-agent-and-server/pkg/record"
)

var (
	defaultHTTPAddr string
)

func init() {
	flag.StringVar(&defaultHTTPAddr, "http-address", ":8080",
		"The address the collector's HTTP ingress binds to.")
}

// DefaultAddr returns the flag-configured HTTP bind address.
func DefaultAddr() string {
	return defaultHTTPAddr
}

// maxBodyBytes caps a submitted record; matches the listener's frame cap.
const maxBodyBytes = 4 * 1024 * 1024

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handler serves the HTTP ingress routes.
type Handler struct {
	ingestor *ingest.Ingestor
	gw       gateway.Gateway
	logger   logr.Logger
}

func NewHandler(ingestor *ingest.Ingestor, gw gateway.Gateway, logger logr.Logger) *Handler {
	return &Handler{
		ingestor: ingestor,
		gw:       gw,
		logger:   logger.WithName("ingress"),
	}
}

// Router builds the chi router: POST /submit, GET /healthz, and the
// Prometheus scrape endpoint when a gatherer is provided.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/submit", h.handleSubmit)
	r.Get("/healthz", h.handleHealthz)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || ct != "application/json" {
		h.writeStatus(w, http.StatusBadRequest, "error", "Content-Type must be application/json")
		return
	}

	var rec record.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&rec); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeStatus(w, http.StatusRequestEntityTooLarge, "error", "request body too large")
			return
		}
		h.writeStatus(w, http.StatusBadRequest, "error", "request body is not valid JSON")
		return
	}
	// "null" decodes into a nil map without error.
	if rec == nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "request body is not a JSON object")
		return
	}

	kind, err := h.ingestor.Ingest(r.Context(), rec)
	if err != nil {
		h.logger.Error(err, "failed to persist submitted record",
			"remote", r.RemoteAddr, "kind", kind.String())
		h.writeStatus(w, http.StatusInternalServerError, "error", "failed to store record")
		return
	}

	h.logger.V(1).Info("stored submitted record", "remote", r.RemoteAddr, "kind", kind.String())
	h.writeStatus(w, http.StatusOK, "success", "record stored")
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.Ping(r.Context()); err != nil {
		h.writeStatus(w, http.StatusServiceUnavailable, "error", "persistence backend unreachable")
		return
	}
	h.writeStatus(w, http.StatusOK, "success", "ok")
}

func (h *Handler) writeStatus(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(statusResponse{Status: status, Message: message}); err != nil {
		h.logger.Error(err, "failed to write response")
	}
}
