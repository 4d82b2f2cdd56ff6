package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/autoflow/logger"
	"github.com/mohitkumar/autoflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if !decodeBody(w, r, &wf) {
		return
	}
	if err := s.metadataService.SaveWorkflow(r.Context(), &wf); err != nil {
		logger.Error("error saving workflow", zap.String("workflow", wf.Id), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.metadataService.ListWorkflows(r.Context())
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, workflows)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.metadataService.GetWorkflow(r.Context(), id)
	if err != nil {
		logger.Info("workflow does not exist", zap.String("workflow", id))
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.metadataService.DeleteWorkflow(r.Context(), id); err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) HandlePauseWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.metadataService.Pause(r.Context(), id)
	if err != nil {
		logger.Error("error pausing workflow", zap.String("workflow", id), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.metadataService.Resume(r.Context(), id)
	if err != nil {
		logger.Error("error resuming workflow", zap.String("workflow", id), zap.Error(err))
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}
