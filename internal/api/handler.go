// Package api serves a read-only JSON view of a running simulation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/gateway"
	"github.com/nidhogg/agora/internal/graph"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
	"github.com/nidhogg/agora/internal/vecmath"
	"github.com/nidhogg/agora/internal/vectorstore"
)

const (
	defaultLimit   = 50
	defaultSimilar = 10
)

// SimilarFinder searches message embeddings.
type SimilarFinder interface {
	Similar(ctx context.Context, vector []float32, k int, excludeID string) ([]vectorstore.Hit, error)
}

// InfluenceSource ranks users by the reception of their posts.
type InfluenceSource interface {
	TopInfluencers(ctx context.Context, limit int) ([]graph.Influence, error)
}

// MirrorHistory lists posts mirrored to chat platforms.
type MirrorHistory interface {
	History(limit int) []gateway.Record
}

// Handler holds dependencies for HTTP handlers. Only env is required.
type Handler struct {
	env       *platform.Environment
	runID     string
	similar   SimilarFinder
	influence InfluenceSource
	mirrors   MirrorHistory
	started   time.Time
	logger    *zap.Logger
}

// NewHandler creates a handler for env.
func NewHandler(env *platform.Environment, runID string, logger *zap.Logger) *Handler {
	return &Handler{env: env, runID: runID, started: time.Now(), logger: logger}
}

// WithSimilar sets the vector index used by /messages/{id}/similar.
func (h *Handler) WithSimilar(s SimilarFinder) *Handler { h.similar = s; return h }

// WithInfluence sets the graph used by /graph/influence.
func (h *Handler) WithInfluence(s InfluenceSource) *Handler { h.influence = s; return h }

// WithMirrors sets the broadcaster history used by /mirrors.
func (h *Handler) WithMirrors(m MirrorHistory) *Handler { h.mirrors = m; return h }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.status)

		r.Get("/users", h.listUsers)
		r.Get("/users/{id}", h.getUser)
		r.Get("/users/{id}/next", h.nextAction)

		r.Get("/messages", h.listMessages)
		r.Get("/messages/top", h.topMessages)
		r.Get("/messages/{id}", h.getMessage)
		r.Get("/messages/{id}/similar", h.similarMessages)

		r.Get("/log", h.log)
		r.Get("/graph/influence", h.graphInfluence)
		r.Get("/mirrors", h.mirrorHistory)
	})

	return r
}

type userView struct {
	ID              string         `json:"id"`
	Info            map[string]any `json:"info,omitempty"`
	Agent           string         `json:"agent"`
	Characteristics string         `json:"characteristics,omitempty"`
	Following       []string       `json:"following"`
	Followers       []string       `json:"followers"`
	Posts           []string       `json:"posts"`
	Likes           []string       `json:"likes"`
	Reposts         []string       `json:"reposts"`
}

func newUserView(u platform.User, detail bool) userView {
	v := userView{
		ID:        u.ID,
		Following: nonNil(u.Following),
		Followers: nonNil(u.Followers),
		Posts:     nonNil(u.Posts),
		Likes:     nonNil(u.Likes),
		Reposts:   nonNil(u.Reposts),
	}
	if u.Agent != nil {
		v.Agent = u.Agent.Type()
		if detail {
			v.Characteristics = u.Agent.Characteristics()
		}
	}
	if detail {
		v.Info = u.Info
	}
	return v
}

type messageView struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	AuthorID   string   `json:"author_id"`
	QuoteID    string   `json:"quote_id,omitempty"`
	Text       string   `json:"text"`
	Timestamp  string   `json:"timestamp"`
	Likes      int      `json:"likes"`
	Reposts    int      `json:"reposts"`
	LikedBy    []string `json:"liked_by,omitempty"`
	RepostedBy []string `json:"reposted_by,omitempty"`
}

func newMessageView(m platform.Message, detail bool) messageView {
	v := messageView{
		ID:        m.ID,
		Type:      m.Type,
		AuthorID:  m.AuthorID,
		QuoteID:   m.QuoteID,
		Text:      m.Text,
		Timestamp: timeutil.Format(m.Timestamp),
		Likes:     len(m.LikedBy),
		Reposts:   len(m.RepostedBy),
	}
	if detail {
		for _, a := range m.LikedBy {
			v.LikedBy = append(v.LikedBy, a.UserID)
		}
		for _, a := range m.RepostedBy {
			v.RepostedBy = append(v.RepostedBy, a.UserID)
		}
	}
	return v
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run": h.runID})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      h.runID,
		"now":      timeutil.Format(h.env.Now()),
		"interval": h.env.Interval().String(),
		"counts":   h.env.Stats(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users := h.env.Users()
	out := make([]userView, len(users))
	for i, u := range users {
		out[i] = newUserView(u, false)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.env.User(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u, true))
}

func (h *Handler) nextAction(w http.ResponseWriter, r *http.Request) {
	u, err := h.env.User(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if u.Agent == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "user has no agent"})
		return
	}
	writeJSON(w, http.StatusOK, u.Agent.DecideNextAction(r.Context(), h.env.Now()))
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs := h.env.Messages(queryInt(r, "limit", defaultLimit))
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = newMessageView(m, false)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) topMessages(w http.ResponseWriter, r *http.Request) {
	msgs := h.env.TopLiked(queryInt(r, "n", 10))
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = newMessageView(m, false)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.env.Message(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(m, true))
}

func (h *Handler) similarMessages(w http.ResponseWriter, r *http.Request) {
	m, err := h.env.Message(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	k := queryInt(r, "k", defaultSimilar)
	if h.similar == nil {
		writeJSON(w, http.StatusOK, h.scanSimilar(m, k))
		return
	}
	hits, err := h.similar.Similar(r.Context(), m.Embedding, k, m.ID)
	if err != nil {
		h.logger.Warn("similar search failed", zap.String("message", m.ID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// scanSimilar ranks origin messages by cosine similarity in memory when no
// vector index is configured.
func (h *Handler) scanSimilar(target platform.Message, k int) []vectorstore.Hit {
	var hits []vectorstore.Hit
	for _, m := range h.env.Messages(0) {
		if !m.IsOrigin() || m.ID == target.ID || len(m.Embedding) == 0 {
			continue
		}
		hits = append(hits, vectorstore.Hit{
			MessageID: m.ID,
			AuthorID:  m.AuthorID,
			Score:     float32(vecmath.Cosine(target.Embedding, m.Embedding)),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return nonNil(hits)
}

func (h *Handler) log(w http.ResponseWriter, r *http.Request) {
	entries := h.env.Log(r.URL.Query().Get("user"), queryInt(r, "limit", defaultLimit))
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *Handler) graphInfluence(w http.ResponseWriter, r *http.Request) {
	if h.influence == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not configured"})
		return
	}
	out, err := h.influence.TopInfluencers(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) mirrorHistory(w http.ResponseWriter, r *http.Request) {
	if h.mirrors == nil {
		writeJSON(w, http.StatusOK, []gateway.Record{})
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.mirrors.History(queryInt(r, "limit", defaultLimit))))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, platform.ErrUserNotFound) || errors.Is(err, platform.ErrMessageNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
