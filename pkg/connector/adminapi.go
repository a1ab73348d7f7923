// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/jsontime"
	"maunium.net/go/mautrix/bridgev2/status"
)

// ErrNoPendingPrompt is returned when an answer does not match the prompt
// the operator is waiting on.
var ErrNoPendingPrompt = errors.New("no pending prompt with that id")

// maxAnswerBodySize is the maximum allowed request body for prompt answers (1 MB).
const maxAnswerBodySize = 1 << 20

const maxPostedNotices = 50

// PostedNotice is a notice as served by the admin API.
type PostedNotice struct {
	ID       string        `json:"id"`
	Time     jsontime.Unix `json:"time"`
	Prompt   bool          `json:"prompt"`
	Answered bool          `json:"answered,omitempty"`
	*Notice
}

type pendingPrompt struct {
	id     string
	answer chan string
}

// APIOperator is an Operator driven through the admin HTTP API. Notices are
// kept in a bounded list and prompts wait for an answer posted by id.
type APIOperator struct {
	log zerolog.Logger

	mu      sync.Mutex
	notices []*PostedNotice
	pending *pendingPrompt
}

var _ Operator = (*APIOperator)(nil)

func NewAPIOperator(log zerolog.Logger) *APIOperator {
	return &APIOperator{log: log.With().Str("component", "operator").Logger()}
}

func (a *APIOperator) post(n *Notice, prompt bool) *PostedNotice {
	pn := &PostedNotice{ID: uuid.NewString(), Time: jsontime.UnixNow(), Prompt: prompt, Notice: n}
	a.notices = append(a.notices, pn)
	if len(a.notices) > maxPostedNotices {
		a.notices = a.notices[len(a.notices)-maxPostedNotices:]
	}
	a.log.Info().Str("notice_id", pn.ID).Str("title", n.Title).Bool("prompt", prompt).Msg(n.Message)
	return pn
}

func (a *APIOperator) Notify(_ context.Context, n *Notice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.post(n, false)
}

func (a *APIOperator) Await(ctx context.Context, n *Notice) (string, error) {
	a.mu.Lock()
	pn := a.post(n, true)
	p := &pendingPrompt{id: pn.ID, answer: make(chan string, 1)}
	// A newer prompt supersedes an unanswered one.
	a.pending = p
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		a.mu.Lock()
		if a.pending == p {
			a.pending = nil
		}
		a.mu.Unlock()
		return "", ctx.Err()
	case answer := <-p.answer:
		return answer, nil
	}
}

// Answer delivers an answer to the pending prompt with the given id.
func (a *APIOperator) Answer(id, answer string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil || a.pending.id != id {
		return ErrNoPendingPrompt
	}
	a.pending.answer <- answer
	a.pending = nil
	for _, pn := range a.notices {
		if pn.ID == id {
			pn.Answered = true
		}
	}
	return nil
}

// Notices returns the retained notices, oldest first.
func (a *APIOperator) Notices() []PostedNotice {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PostedNotice, len(a.notices))
	for i, pn := range a.notices {
		out[i] = *pn
	}
	return out
}

// StateReport is the body of GET /api/state.
type StateReport struct {
	Bridge    status.BridgeState `json:"bridge"`
	Login     LoginState         `json:"login"`
	Challenge *ChallengeInfo     `json:"challenge,omitempty"`
}

// StateSource supplies the state served by the admin API.
type StateSource interface {
	StateReport() *StateReport
}

// NewAdminRouter builds the admin API handler. Notice routes are only
// mounted when op is not nil.
func NewAdminRouter(src StateSource, op *APIOperator, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin API request")
	}))

	r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, src.StateReport())
	})
	if op != nil {
		r.Get("/api/notices", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, r, http.StatusOK, op.Notices())
		})
		r.Post("/api/notices/{id}/answer", func(w http.ResponseWriter, r *http.Request) {
			handleAnswer(op, w, r)
		})
	}
	return r
}

type answerRequest struct {
	Response string `json:"response"`
}

func handleAnswer(op *APIOperator, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAnswerBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req answerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	if err := op.Answer(id, req.Response); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	hlog.FromRequest(r).Info().Str("notice_id", id).Msg("Prompt answered through admin API")
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to write admin API response")
	}
}

// newAdminServer wraps the admin router in an http.Server.
func newAdminServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
