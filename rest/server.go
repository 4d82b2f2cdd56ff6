package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/autoflow/analytics"
	"github.com/mohitkumar/autoflow/flow"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/metadata"
	"github.com/mohitkumar/autoflow/metrics"
	"github.com/mohitkumar/autoflow/model"
	"github.com/mohitkumar/autoflow/persistence"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port            int
	metadataService metadata.MetadataService
	engine          *flow.Engine
	analytics       *analytics.Service
	metrics         *metrics.Metrics
}

func NewServer(httpPort int, metadataService metadata.MetadataService, engine *flow.Engine,
	analyticsService *analytics.Service, m *metrics.Metrics) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		metadataService: metadataService,
		engine:          engine,
		analytics:       analyticsService,
		metrics:         m,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/events/trigger", s.HandleTriggerEvent).Methods(http.MethodPost)
	router.HandleFunc("/events/condition", s.HandleConditionEvent).Methods(http.MethodPost)

	router.HandleFunc("/workflow", s.HandleSaveWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{id}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/workflow/{id}/pause", s.HandlePauseWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{id}/resume", s.HandleResumeWorkflow).Methods(http.MethodPost)

	router.HandleFunc("/workflow/{id}/runs", s.HandleListRuns).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{id}/analytics", s.HandleGetAnalytics).Methods(http.MethodGet)
	router.HandleFunc("/run/{id}", s.HandleGetRun).Methods(http.MethodGet)

	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	if m != nil {
		router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", zap.String("method", r.Method), zap.String("uri", r.RequestURI))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithStoreError maps domain errors to status codes.
func respondWithStoreError(w http.ResponseWriter, err error) {
	var confErr model.ConfigurationError
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &confErr):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, metadata.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
