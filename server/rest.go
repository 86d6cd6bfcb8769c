package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
)

// executeBody is the request of the playground's REST endpoint.
type executeBody struct {
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

type executeReply struct {
	Status string   `json:"status"`
	Data   []string `json:"data"`
}

// handleExecute serves POST /api/v1/execute: Go source in, printed lines
// out. Any failure is a 500 carrying the error text.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	run, err := s.run(r.Context(), &ExecuteRequest{Source: body.Content}, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	if run.Status != StatusSuccess {
		http.Error(w, run.Error, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, executeReply{Status: run.Status, Data: run.Output})
}

// handleRuns serves GET /api/v1/runs: the most recent recorded runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "run history is disabled", http.StatusNotFound)
		return
	}
	runs, err := s.history.Recent(r.Context(), 50)
	if err != nil {
		log.Errorf("listing runs: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
