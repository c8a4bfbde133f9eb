// Package api exposes the HTTP control surface: health, on-demand analysis,
// retraining, model info, and alert lifecycle operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safetrail-data/sentinel.report/internal/analysis"
	"github.com/safetrail-data/sentinel.report/internal/config"
	"github.com/safetrail-data/sentinel.report/internal/eventstore"
	"github.com/safetrail-data/sentinel.report/internal/httputil"
	"github.com/safetrail-data/sentinel.report/internal/iforest"
	"github.com/safetrail-data/sentinel.report/internal/monitoring"
	"github.com/safetrail-data/sentinel.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store  eventstore.Store
	driver *analysis.Driver
	scorer *iforest.Scorer
	cfg    *config.Config
}

func NewServer(store eventstore.Store, driver *analysis.Driver, scorer *iforest.Scorer, cfg *config.Config) *Server {
	return &Server{
		store:  store,
		driver: driver,
		scorer: scorer,
		cfg:    cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/analyze/", s.analyzeTourist)
	mux.HandleFunc("/retrain", s.retrain)
	mux.HandleFunc("/model/info", s.modelInfo)
	mux.HandleFunc("/alerts/", s.alertAction)
	return mux
}

type healthResponse struct {
	Status           string         `json:"status"`
	Timestamp        time.Time      `json:"timestamp"`
	Version          string         `json:"version"`
	ModelLoaded      bool           `json:"model_loaded"`
	ModelVersion     string         `json:"model_version"`
	Retraining       bool           `json:"retraining"`
	AnalysisInterval string         `json:"analysis_interval"`
	AnalysisStats    analysis.Stats `json:"analysis_stats"`
	AlertThreshold   string         `json:"alert_severity_threshold"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, healthResponse{
		Status:           "ok",
		Timestamp:        time.Now().UTC(),
		Version:          version.Version,
		ModelLoaded:      s.scorer.IsLoaded(),
		ModelVersion:     s.scorer.ModelVersion(),
		Retraining:       s.driver.IsRetraining(),
		AnalysisInterval: s.cfg.AnalysisInterval().String(),
		AnalysisStats:    s.driver.Stats(),
		AlertThreshold:   string(s.cfg.AlertSeverityThreshold),
	})
}

func (s *Server) analyzeTourist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	touristID := strings.TrimPrefix(r.URL.Path, "/analyze/")
	if touristID == "" || strings.Contains(touristID, "/") {
		httputil.BadRequest(w, "expected /analyze/{tourist_id}")
		return
	}
	if s.store == nil || s.driver == nil {
		httputil.ServiceUnavailable(w, "event store not initialized")
		return
	}

	assessment, err := s.driver.AnalyzeTourist(r.Context(), touristID)
	if err != nil {
		if errors.Is(err, analysis.ErrInsufficientEvents) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, assessment)
}

type retrainRequest struct {
	Version string `json:"version"`
}

func (s *Server) retrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req retrainRequest
	if r.Body != nil {
		// Body is optional; ignore decode errors from an empty body.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Version == "" {
		req.Version = "v" + time.Now().UTC().Format("20060102150405")
	}

	if s.driver.IsRetraining() {
		httputil.WriteJSONError(w, http.StatusConflict, "retraining already in progress")
		return
	}

	// Fire and forget: training can take a while, so the request only
	// acknowledges the kick-off. The request context ends with the response,
	// so training runs under its own.
	go func() {
		if err := s.driver.Retrain(context.Background(), req.Version); err != nil {
			monitoring.Logf("retrain request failed: %v", err)
		}
	}()

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "retraining started",
		"version": req.Version,
	})
}

func (s *Server) modelInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	b := s.scorer.Bundle()
	if b == nil {
		httputil.WriteJSONOK(w, map[string]string{
			"status":  "no_model",
			"message": "no model loaded, running in rules-only mode",
		})
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"model_version":    b.ModelVersion,
		"trained_at":       b.TrainedAt,
		"training_samples": b.TrainingSamples,
		"n_estimators":     b.NumTrees,
		"contamination":    b.Contamination,
		"threshold":        b.Threshold,
		"feature_columns":  b.FeatureColumns,
		"score_stats":      b.ScoreStats,
	})
}

type acknowledgeRequest struct {
	OfficerID string `json:"officer_id"`
}

// alertAction routes /alerts/{id}/acknowledge and /alerts/{id}/resolve.
func (s *Server) alertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/alerts/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		httputil.BadRequest(w, "expected /alerts/{id}/acknowledge or /alerts/{id}/resolve")
		return
	}
	alertID, action := parts[0], parts[1]

	var err error
	switch action {
	case "acknowledge":
		var req acknowledgeRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil || req.OfficerID == "" {
			httputil.BadRequest(w, "officer_id is required")
			return
		}
		err = s.store.AcknowledgeAlert(r.Context(), alertID, req.OfficerID)
	case "resolve":
		err = s.store.ResolveAlert(r.Context(), alertID)
	default:
		httputil.BadRequest(w, "unknown alert action "+action)
		return
	}

	if err != nil {
		if strings.Contains(err.Error(), "no alert with id") {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "alert_id": alertID})
}
