package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
)

// writeJSON is the single JSON response helper for the read API.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugw("write api response", "error", err)
	}
}

func (s *Server) apiError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleSRTList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List()
	if err != nil {
		s.log.Errorw("list recordings", "error", err)
		s.apiError(w, http.StatusInternalServerError, "list failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"files": entries})
}

func (s *Server) handleSRTGet(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	segments, err := s.store.Get(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.apiError(w, http.StatusNotFound, "transcript not found")
			return
		}
		s.apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"file":     filepath.Base(name),
		"segments": segments,
	})
}

func (s *Server) handleSRTSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File    string `json:"file"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.apiError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.Save(req.File, req.Content); err != nil {
		s.apiError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleAudio serves a recording with Range support; http.ServeContent
// produces the 206/Content-Range handling.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.AudioPath(r.URL.Query().Get("file"))
	if err != nil {
		s.apiError(w, http.StatusNotFound, "audio file not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, "open failed")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, "stat failed")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
