package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"iceberg-ingress/config"
	"iceberg-ingress/ingest"
	"iceberg-ingress/metrics"
)

// maxRequestBody caps ingest request bodies at 256 MiB of JSON; the Arrow
// payload inside is base64, so the decoded batch is smaller.
const maxRequestBody = 256 << 20

type IngestRequest struct {
	TableName string `json:"table_name"`
	Namespace string `json:"namespace,omitempty"`
	Data      string `json:"data"` // base64-encoded Arrow IPC stream
}

type IngestResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	RecordsIngested *int64 `json:"records_ingested,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Server is the thin HTTP layer in front of the ingest coordinator.
type Server struct {
	coordinator      *ingest.Coordinator
	defaultNamespace string
	log              *zap.Logger
	http             *http.Server
}

func New(cfg *config.Config, coordinator *ingest.Coordinator, log *zap.Logger) *Server {
	s := &Server{
		coordinator:      coordinator,
		defaultNamespace: cfg.Ingest.DefaultNamespace,
		log:              log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	return s
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.log.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.respondError(w, ingest.KindMalformedPayload, fmt.Sprintf("decoding request: %v", err))
		return
	}
	if req.TableName == "" {
		s.respondError(w, ingest.KindMalformedPayload, "table_name is required")
		return
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = s.defaultNamespace
	}

	payload, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		s.respondError(w, ingest.KindMalformedPayload, fmt.Sprintf("decoding base64 payload: %v", err))
		return
	}

	s.log.Info("received ingest request",
		zap.String("namespace", namespace), zap.String("table", req.TableName))

	result, err := s.coordinator.Ingest(r.Context(), namespace, req.TableName, payload)
	if err != nil {
		kind := ingest.Classify(err)
		s.log.Error("ingest failed",
			zap.String("namespace", namespace),
			zap.String("table", req.TableName),
			zap.String("kind", string(kind)),
			zap.Error(err))
		s.respondError(w, kind, err.Error())
		return
	}

	metrics.IngestRequests.WithLabelValues("success").Inc()
	s.respond(w, http.StatusOK, IngestResponse{
		Success:         true,
		Message:         fmt.Sprintf("Successfully ingested %d records", result.Rows),
		RecordsIngested: &result.Rows,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "iceberg-ingress",
	})
}

func (s *Server) respondError(w http.ResponseWriter, kind ingest.Kind, message string) {
	metrics.IngestRequests.WithLabelValues(string(kind)).Inc()
	s.respond(w, statusFor(kind), IngestResponse{
		Success: false,
		Message: message,
		Error:   string(kind),
	})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("encoding response", zap.Error(err))
	}
}

func statusFor(kind ingest.Kind) int {
	switch kind {
	case ingest.KindMalformedPayload, ingest.KindSchemaMismatch:
		return http.StatusBadRequest
	case ingest.KindTableNotFound:
		return http.StatusNotFound
	case ingest.KindCommitConflict:
		return http.StatusConflict
	case ingest.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
