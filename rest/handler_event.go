package rest

import (
	"net/http"

	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"go.uber.org/zap"
)

func runIds(runs []*model.RunInstance) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.Id)
	}
	return ids
}

func (s *Server) HandleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.TriggerEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.EntityId == "" || ev.PipelineId == "" || ev.StageId == "" || ev.EventKind == "" {
		respondWithError(w, http.StatusBadRequest, "entityId, pipelineId, stageId and eventKind are required")
		return
	}
	runs, err := s.engine.HandleTriggerEvent(r.Context(), ev)
	if err != nil {
		logger.Error("error handling trigger event", zap.String("entity", ev.EntityId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error handling trigger event")
		return
	}
	respondOK(w, map[string]any{"runIds": runIds(runs)})
}

func (s *Server) HandleConditionEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.ConditionEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if ev.EntityId == "" || ev.ConditionKey == "" {
		respondWithError(w, http.StatusBadRequest, "entityId and conditionKey are required")
		return
	}
	stopped, err := s.engine.HandleConditionEvent(r.Context(), ev)
	if err != nil {
		logger.Error("error handling condition event", zap.String("entity", ev.EntityId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error handling condition event")
		return
	}
	respondOK(w, map[string]any{"stoppedRunIds": runIds(stopped)})
}
