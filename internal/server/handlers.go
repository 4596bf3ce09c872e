package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tkilaker/newsroom/internal/database"
	"github.com/tkilaker/newsroom/internal/pipeline"
)

const (
	maxIngestCount  = 100
	defaultRunLimit = 20
	maxRunLimit     = 200
)

type ingestRequest struct {
	Count    int  `json:"count"`
	IsManual bool `json:"isManual"`
}

type statusResponse struct {
	pipeline.ProgressUpdate
	Active bool `json:"active"`
}

type reprocessResponse struct {
	ExternalID string           `json:"externalId"`
	Outcome    pipeline.Outcome `json:"outcome"`
	Error      string           `json:"error,omitempty"`
}

// handleIngest is the scheduler-facing trigger
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, err := decodeIngestRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runType := database.RunScheduled
	if req.IsManual {
		runType = database.RunManual
	}
	s.runIngest(w, r, req.Count, runType)
}

// handleAdminIngest triggers an ad hoc manual run
func (s *Server) handleAdminIngest(w http.ResponseWriter, r *http.Request) {
	req, err := decodeIngestRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runIngest(w, r, req.Count, database.RunManual)
}

func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, count int, runType database.RunType) {
	s.log.Info("ingestion triggered", "run_type", string(runType), "count", count)

	// A dropped connection must not cut a batch short.
	ctx := context.WithoutCancel(r.Context())
	result, err := s.runner.Run(ctx, pipeline.RunRequest{Count: count, Type: runType})
	if err != nil {
		s.log.Error("ingestion bookkeeping failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("ingestion failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeIngestRequest(r *http.Request) (ingestRequest, error) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid request body: %v", err)
	}
	if req.Count < 0 || req.Count > maxIngestCount {
		return req, fmt.Errorf("count must be between 1 and %d, or 0 for the default", maxIngestCount)
	}
	return req, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tracker := s.runner.Progress()
	writeJSON(w, http.StatusOK, statusResponse{
		ProgressUpdate: tracker.GetCurrent(),
		Active:         tracker.IsActive(),
	})
}

// handleProgressEvents streams progress updates as server-sent events
func (s *Server) handleProgressEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	tracker := s.runner.Progress()
	ch := tracker.Subscribe()
	defer tracker.Unsubscribe(ch)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case update, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				s.log.Warn("failed to encode progress event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.store.ListJobRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*database.JobRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := articleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.runner.Reprocess(r.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "article not found")
		return
	case errors.Is(err, pipeline.ErrArticleDeleted):
		writeError(w, http.StatusConflict, "article is deleted")
		return
	}

	resp := reprocessResponse{ExternalID: id, Outcome: outcome}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecoverStale(w http.ResponseWriter, r *http.Request) {
	olderThan := s.config.StaleProcessingAfter
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "olderThan must be a duration such as 30m")
			return
		}
		olderThan = d
	}
	if olderThan <= 0 {
		writeError(w, http.StatusBadRequest, "olderThan is required when STALE_PROCESSING_AFTER is unset")
		return
	}

	result, err := s.runner.RecoverStale(context.WithoutCancel(r.Context()), olderThan)
	if err != nil {
		s.log.Error("stale recovery failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stale recovery failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, err := articleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SoftDeleteArticle(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		s.log.Error("failed to delete article", "external_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete article")
		return
	}
	s.log.Info("article soft deleted", "external_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPublished(w http.ResponseWriter, r *http.Request) {
	id, err := articleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		Published *bool `json:"published"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Published == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"published\": true|false}")
		return
	}

	if err := s.store.SetArticlePublished(r.Context(), id, *body.Published); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		s.log.Error("failed to update publication", "external_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update article")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"externalId": id, "published": *body.Published})
}

// articleID reads the {id} path parameter. External ids contain slashes, so
// clients send them path-escaped.
func articleID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil || id == "" {
		return "", fmt.Errorf("invalid article id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
