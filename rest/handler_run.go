package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/autoflow/model"
)

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	runs, err := s.engine.Runs().ListByWorkflow(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	status := model.RunStatus(r.URL.Query().Get("status"))
	out := make([]*model.RunInstance, 0, len(runs))
	for _, run := range runs {
		if status == "" || run.Status == status {
			out = append(out, run)
		}
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Runs().GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

func (s *Server) HandleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.metadataService.GetWorkflow(r.Context(), id); err != nil {
		respondWithStoreError(w, err)
		return
	}
	snapshot, err := s.analytics.GetAnalyticsSnapshot(r.Context(), id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Runs().Ping(r.Context()); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondOK(w, map[string]any{"status": "ok"})
}
