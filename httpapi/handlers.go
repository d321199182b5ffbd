package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/drawfile/filestore"
	"github.com/hazyhaar/drawfile/observability"
	"github.com/hazyhaar/drawfile/obsidian"
	"github.com/hazyhaar/drawfile/snapshot"
)

// resolveTarget maps the requested filepath to the actual on-disk target,
// rewriting the extension for vault-managed files.
func resolveTarget(path string) (target string, vault bool) {
	if obsidian.IsVaultPath(path) {
		return obsidian.TargetPath(path), true
	}
	return path, false
}

func (s *Server) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("filepath")
	if path == "" {
		jsonErr(w, "filepath is required", http.StatusBadRequest)
		return
	}
	target, vault := resolveTarget(path)

	raw, info, err := s.store.Load(target)
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		jsonErr(w, "file not found", http.StatusNotFound)
		return
	case errors.Is(err, filestore.ErrOutsideRoot):
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("load failed", "path", path, "error", err)
		jsonErr(w, "error loading file", http.StatusInternalServerError)
		return
	}

	if vault && len(raw) > 0 {
		raw, err = obsidian.Extract(raw)
		if err != nil {
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	scene, err := snapshot.Parse(raw)
	if err != nil {
		writeParseError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":     scene,
		"hash":     info.Hash,
		"modified": info.ModifiedAt.Unix(),
	})
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("filepath")
	if path == "" {
		jsonErr(w, "filepath is required", http.StatusBadRequest)
		return
	}
	target, _ := resolveTarget(path)

	info, err := s.store.Stat(target)
	if err != nil {
		if errors.Is(err, filestore.ErrOutsideRoot) {
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("stat failed", "path", path, "error", err)
		jsonErr(w, "error getting file info", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"exists": info.Exists}
	if info.Exists {
		resp["hash"] = info.Hash
		resp["modified"] = info.ModifiedAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)

	var req struct {
		Filepath    string          `json:"filepath"`
		Data        json.RawMessage `json:"data"`
		ForceBackup bool            `json:"force_backup"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		saveRejected(w, "invalid request body: "+err.Error())
		return
	}
	if req.Filepath == "" {
		saveRejected(w, "filepath is required")
		return
	}
	if len(req.Data) == 0 {
		saveRejected(w, "data is required")
		return
	}

	scene, err := snapshot.Parse(req.Data)
	if err != nil {
		saveRejected(w, err.Error())
		return
	}

	target, vault := resolveTarget(req.Filepath)

	var payload []byte
	if vault {
		sceneJSON, err := json.Marshal(scene)
		if err != nil {
			saveRejected(w, "serialize scene: "+err.Error())
			return
		}
		existing, _, lerr := s.store.Load(target)
		if lerr != nil && !errors.Is(lerr, filestore.ErrNotFound) {
			s.logger.Error("read existing vault file failed", "path", target, "error", lerr)
			jsonErr(w, "error saving file", http.StatusInternalServerError)
			return
		}
		payload, err = obsidian.Embed(existing, sceneJSON)
		if err != nil {
			saveRejected(w, err.Error())
			return
		}
	} else {
		payload, err = snapshot.Marshal(scene)
		if err != nil {
			saveRejected(w, err.Error())
			return
		}
	}

	info, err := s.store.Save(target, payload, req.ForceBackup)
	if err != nil {
		if errors.Is(err, filestore.ErrOutsideRoot) {
			saveRejected(w, err.Error())
			return
		}
		s.logger.Error("save failed", "path", req.Filepath, "error", err)
		s.events.LogEvent(r.Context(), observability.FileEvent{
			EventType: observability.EventSave,
			FilePath:  req.Filepath,
			Detail:    err.Error(),
		})
		jsonErr(w, "error saving file", http.StatusInternalServerError)
		return
	}

	if info.BackedUp {
		s.events.LogEvent(r.Context(), observability.FileEvent{
			EventType: observability.EventBackup,
			FilePath:  req.Filepath,
			Detail:    "pre-write bytes preserved",
			Success:   true,
		})
	}
	s.events.LogEvent(r.Context(), observability.FileEvent{
		EventType:   observability.EventSave,
		FilePath:    req.Filepath,
		ContentHash: info.Hash,
		Success:     true,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("file saved to %s", req.Filepath),
		"hash":     info.Hash,
		"modified": info.ModifiedAt.Unix(),
	})
}

// writeParseError renders malformed content with the detail a user needs to
// fix the file externally: line/column for syntax, field list for schema.
func writeParseError(w http.ResponseWriter, err error) {
	var syn *snapshot.SyntaxError
	if errors.As(err, &syn) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   syn.Error(),
			"line":    syn.Line,
			"column":  syn.Column,
			"context": syn.Context,
		})
		return
	}
	var schema *snapshot.SchemaError
	if errors.As(err, &schema) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    schema.Error(),
			"problems": schema.Problems,
		})
		return
	}
	jsonErr(w, err.Error(), http.StatusBadRequest)
}

func saveRejected(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"message": msg,
	})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
