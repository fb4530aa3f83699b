package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
)

const archiveLinkExpiry = 15 * time.Minute

type validateRequest struct {
	Text string `json:"text"`
}

type batchRequest struct {
	Items []pipeline.Submission `json:"items"`
}

type batchResponse struct {
	Results []pipeline.Accepted `json:"results"`
	Error   string              `json:"error,omitempty"`
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store != nil {
			if err := deps.Store.Ping(); err != nil {
				httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleValidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusOK, deps.Pipeline.Validate(req.Text))
	}
}

func handleProcess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub pipeline.Submission
		if !decodeBody(w, r, &sub) {
			return
		}
		if strings.TrimSpace(sub.UserID) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		acc, err := deps.Pipeline.Process(r.Context(), sub, parseBoolParam(r, "wait"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process input: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func handleProcessBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Items) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "items is required and must not be empty")
			return
		}
		if len(req.Items) > maxBatchSize {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at most %d items per batch", maxBatchSize)
			return
		}
		for i, item := range req.Items {
			if strings.TrimSpace(item.UserID) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "items[%d].user_id is required", i)
				return
			}
		}

		results, err := deps.Pipeline.ProcessBatch(r.Context(), req.Items, parseBoolParam(r, "wait"))
		resp := batchResponse{Results: results}
		if err != nil {
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleReprocess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		acc, err := deps.Pipeline.Reprocess(r.Context(), id, parseBoolParam(r, "wait"))
		if pipeline.IsNotFound(err) {
			httpError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		if errors.Is(err, pipeline.ErrAlreadyProcessing) {
			httpError(w, http.StatusConflict, "conflict_error", "record %s is already processing", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reprocess record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		view, err := deps.Pipeline.GetStatus(id, parseBoolParam(r, "detailed"))
		if pipeline.IsNotFound(err) {
			httpError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleListUserRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		limit := parseIntParam(r, "limit", 50, 200)

		views, err := deps.Pipeline.ListByUser(userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list records: %v", err)
			return
		}
		if views == nil {
			views = []pipeline.StatusView{}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleProviders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Pipeline.Providers())
	}
}

func handleArchiveLink(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Archive == nil {
			httpError(w, http.StatusNotFound, "not_found", "archive is not configured")
			return
		}
		id := chi.URLParam(r, "id")

		view, err := deps.Pipeline.GetStatus(id, false)
		if pipeline.IsNotFound(err) {
			httpError(w, http.StatusNotFound, "not_found", "record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get status: %v", err)
			return
		}
		if view.Status != storage.RecordCompleted {
			httpError(w, http.StatusConflict, "invalid_request_error", "record is %s; only completed records are archived", view.Status)
			return
		}

		url, err := deps.Archive.PresignedURL(r.Context(), id, archiveLinkExpiry)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to sign archive link: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"record_id":  id,
			"url":        url,
			"expires_in": int(archiveLinkExpiry.Seconds()),
		})
	}
}

// decodeBody decodes a JSON request body into v. Undecodable bodies get a
// 422 and false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
