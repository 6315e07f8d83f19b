package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kbchat-ai/kbchat/engine/chat"
	"github.com/kbchat-ai/kbchat/engine/domain"
	"github.com/kbchat-ai/kbchat/engine/embed"
	"github.com/kbchat-ai/kbchat/engine/ingest"
	"github.com/kbchat-ai/kbchat/pkg/metrics"
)

// chatService is the chain surface the handlers need.
type chatService interface {
	Ask(ctx context.Context, messages []domain.Message) (*chat.Answer, error)
}

// ingestService runs ingestion batches.
type ingestService interface {
	Run(ctx context.Context, entries []domain.Entry) (ingest.Report, error)
}

// pinger is the keep-alive surface of the vector store.
type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	chat     chatService
	ingest   ingestService
	provider embed.Provider
	store    pinger
	logger   *slog.Logger
	met      *serverMetrics
}

type serverMetrics struct {
	chatRequests  *metrics.Counter
	chatErrors    *metrics.Counter
	chatDuration  *metrics.Histogram
	ingestAdded   *metrics.Counter
	ingestDupes   *metrics.Counter
	ingestErrors  *metrics.Counter
	keepAliveHits *metrics.Counter
}

func newServerMetrics(met *metrics.Registry) *serverMetrics {
	return &serverMetrics{
		chatRequests:  met.Counter("kbchat_chat_requests_total", "Chat requests received"),
		chatErrors:    met.Counter("kbchat_chat_errors_total", "Chat requests that failed"),
		chatDuration:  met.Histogram("kbchat_chat_duration_seconds", "Chat end-to-end latency", nil),
		ingestAdded:   met.Counter("kbchat_ingest_added_total", "Documents added by ingestion"),
		ingestDupes:   met.Counter("kbchat_ingest_duplicates_total", "Documents skipped as duplicates"),
		ingestErrors:  met.Counter("kbchat_ingest_errors_total", "Ingestion batches that failed"),
		keepAliveHits: met.Counter("kbchat_keepalive_total", "Keep-alive pings"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Messages []domain.Message `json:"messages"`
}

// handleChat drives the conversational chain and streams the answer as plain
// text. Citations ride out-of-band in response headers: x-message-index is
// the count of prior messages plus one, x-sources a base64 JSON array of
// document previews.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.met.chatRequests.Inc()
	start := time.Now()
	defer func() { s.met.chatDuration.Since(start) }()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateMessages(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := s.chat.Ask(r.Context(), req.Messages)
	if err != nil {
		s.met.chatErrors.Inc()
		s.logger.Error("chat chain failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The chain fulfils the citation channel before handing back the answer,
	// so this receive does not delay the first token.
	docs := <-answer.Citations
	citations := make([]domain.Citation, len(docs))
	for i, d := range docs {
		citations[i] = domain.NewCitation(d)
	}
	serialized, err := json.Marshal(citations)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("x-message-index", strconv.Itoa(len(req.Messages)))
	w.Header().Set("x-sources", base64.StdEncoding.EncodeToString(serialized))

	flusher, _ := w.(http.Flusher)
	streamErr := answer.Stream(r.Context(), func(token string) error {
		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if streamErr != nil {
		// Headers are gone; all that is left is to stop cleanly.
		s.met.chatErrors.Inc()
		s.logger.Error("chat stream aborted", "err", streamErr)
	}
}

// ingestResponse is the JSON body for POST /api/ingest.
type ingestResponse struct {
	Success        bool `json:"success"`
	AddedCount     int  `json:"addedCount"`
	DuplicateCount int  `json:"duplicateCount"`
}

// handleIngest accepts multipart form data with an optional tabular file and
// an optional JSON array of manual entries. Malformed input is rejected
// before any embedding work starts.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var entries []domain.Entry

	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		parsed, err := ingest.ParseFile(header.Filename, data)
		if err != nil {
			if errors.Is(err, domain.ErrUnsupportedFileType) {
				writeError(w, http.StatusBadRequest, "Unsupported file type")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries = append(entries, parsed...)
	}

	if manual := r.FormValue("manualEntries"); manual != "" {
		var manualEntries []domain.Entry
		if err := json.Unmarshal([]byte(manual), &manualEntries); err != nil {
			writeError(w, http.StatusBadRequest, "invalid manualEntries JSON")
			return
		}
		entries = append(entries, manualEntries...)
	}

	if len(entries) == 0 {
		writeError(w, http.StatusBadRequest, "No data to process")
		return
	}

	report, err := s.ingest.Run(r.Context(), entries)
	if err != nil {
		s.met.ingestErrors.Inc()
		s.logger.Error("ingest failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to process documents")
		return
	}
	s.met.ingestAdded.Add(int64(report.AddedCount))
	s.met.ingestDupes.Add(int64(report.DuplicateCount))

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:        true,
		AddedCount:     report.AddedCount,
		DuplicateCount: report.DuplicateCount,
	})
}

// handleEmbeddingProbe exercises the embedding provider and reports its
// observed dimensionality and latency. Diagnostic only.
func (s *server) handleEmbeddingProbe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vec, err := s.provider.Embed(r.Context(), "OK computer")
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("embedding probe failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":   s.provider.Name(),
		"dimensions": len(vec),
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// handleKeepAlive performs a trivial read against the store so a managed
// deployment is not suspended for inactivity. Diagnostic only.
func (s *server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	s.met.keepAliveHits.Inc()
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("keep-alive ping failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to ping database")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Database pinged successfully"})
}
