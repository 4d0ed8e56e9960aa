package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"desktrace/internal/automation"
	"desktrace/internal/platform"
	"desktrace/internal/recorder"
	"desktrace/internal/store"
)

type startRecordingRequest struct {
	Name string `json:"name"`
}

type startReplayRequest struct {
	File  string  `json:"file"`
	Speed float64 `json:"speed"`
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
		return
	}

	rec, err := s.startRecording(req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, recorder.ErrAlreadyRecording), errors.Is(err, errReplayActive):
			status = http.StatusConflict
		case errors.Is(err, platform.ErrPermissionDenied):
			status = http.StatusForbidden
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": rec.ID, "name": rec.Name})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	rec, file, err := s.stopRecording()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errNoRecording) {
			status = http.StatusConflict
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": rec.ID, "file": file})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	wf, corrupt, err := s.store.Load(file)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"name":         wf.Name,
		"created":      wf.CreatedAt,
		"events":       wf.Events,
		"corruptLines": len(corrupt),
	})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	if err := s.store.Delete(file); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"deleted"}`))
}

func (s *Server) handleStartReplay(w http.ResponseWriter, r *http.Request) {
	var req startReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.File == "" {
		http.Error(w, `{"error":"file is required"}`, http.StatusBadRequest)
		return
	}

	if err := s.startReplay(req.File, req.Speed); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, errReplayActive), errors.Is(err, errRecordingActive):
			status = http.StatusConflict
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"replaying"}`))
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.engine.Apps()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apps)
}

func (s *Server) handleAppTree(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	depth := -1
	if d := r.URL.Query().Get("depth"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil {
			depth = parsed
		}
	}

	tree, err := s.engine.Tree(name, depth)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, automationStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tree)
}

func automationStatus(err error) int {
	var notFound *automation.AppNotFoundError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, platform.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAppText(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	text, err := s.engine.Scrape(name, r.URL.Query().Get("sep"))
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, automationStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"app": name, "text": text})
}
