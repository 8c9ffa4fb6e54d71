package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"reporthub/internal/jobstore"
	"reporthub/internal/scheduler"
	"reporthub/internal/tabular"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps the control surface's sentinel errors onto status codes.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobstore.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, jobstore.ErrPaused), errors.Is(err, scheduler.ErrAlreadyRunning):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	var snap tabular.Frame
	if len(req.Preview) > 0 {
		snap = tabular.New(req.Preview, time.Now())
	} else {
		if s.fetcher == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "preview rows required: no fetcher configured"})
			return
		}
		var err error
		snap, err = s.fetcher.Fetch(r.Context(), req.Source)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "initial fetch failed: " + err.Error()})
			return
		}
	}

	job, err := s.sched.CreateJob(r.Context(), req.config(), req.Schedule, snap)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.sched.ListJobs(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sched.RunNow(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "id": id})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Pause(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Resume(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.DeleteJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	hist := s.sched.History()
	// Newest first for operators scanning recent runs.
	out := make([]scheduler.RunRecord, 0, len(hist))
	for i := len(hist) - 1; i >= 0; i-- {
		out = append(out, hist[i])
	}
	writeJSON(w, http.StatusOK, out)
}
