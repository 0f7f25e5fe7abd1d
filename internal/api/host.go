package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailonline/chpusage/internal/storage"
	"github.com/mailonline/chpusage/internal/usage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// UsageReporter runs and reads usage attempts.
type UsageReporter interface {
	Send(ctx context.Context, postID int64, daily bool) (*usage.Record, error)
	Record(postID int64) (*usage.Record, bool, error)
}

// Scheduler reacts to post transitions and runs the daily sweep.
type Scheduler interface {
	OnTransition(newStatus, oldStatus string, post storage.Post) (bool, error)
	DailySweep(ctx context.Context) (int, error)
}

type AppDeps struct {
	Store     *storage.Store
	Reporter  UsageReporter
	Scheduler Scheduler
	Token     string
	Media     MediaOptions
	Logger    *slog.Logger // optional; defaults to slog.Default()
}

// NewAppHandler returns the REST surface. Everything except /health requires
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/media-chp/media", handleMediaPassthrough(deps))
		r.Post("/wp/v2/media", handleCreateMedia(deps))

		r.Put("/posts/{id}", handlePutPost(deps))
		r.Put("/users/{id}", handlePutUser(deps))

		r.Post("/usage/{id}/send", handleSendUsage(deps))
		r.Get("/usage/{id}", handleGetUsage(deps))
		r.Post("/sweep", handleSweep(deps))
	})

	return r
}

// metaValues accepts a single string or a list of strings.
type metaValues []string

func (m *metaValues) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*m = metaValues{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("meta value must be a string or a list of strings")
	}
	*m = many
	return nil
}

type PostRequest struct {
	Type       string                `json:"type"`
	Status     string                `json:"status"`
	Title      string                `json:"title"`
	Content    string                `json:"content"`
	Excerpt    string                `json:"excerpt"`
	Permalink  string                `json:"permalink"`
	Author     int64                 `json:"author"`
	Parent     int64                 `json:"parent"`
	DateGMT    *time.Time            `json:"date_gmt"`
	Modified   *time.Time            `json:"modified_gmt"`
	Categories []string              `json:"categories"`
	Coauthors  []int64               `json:"coauthors"`
	Meta       map[string]metaValues `json:"meta"`
}

type PostResponse struct {
	Post           storage.Post `json:"post"`
	PreviousStatus string       `json:"previous_status"`
	Scheduled      bool         `json:"usage_scheduled"`
}

func handlePutPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := postIDParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req PostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Status == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "status is required")
			return
		}
		if req.Type == storage.TypeAttachment {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "attachments are created through /wp/v2/media")
			return
		}

		post := storage.Post{
			ID:        id,
			Type:      req.Type,
			Status:    req.Status,
			Title:     req.Title,
			Content:   req.Content,
			Excerpt:   req.Excerpt,
			Permalink: req.Permalink,
			AuthorID:  req.Author,
			ParentID:  req.Parent,
		}
		if req.DateGMT != nil {
			post.Date = *req.DateGMT
		}
		if req.Modified != nil {
			post.Modified = *req.Modified
		}

		// Categories, co-authors and meta land before the transition fires, so
		// the scheduled attempt sees the complete post.
		oldStatus, err := deps.Store.SavePost(post)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save post: %v", err)
			return
		}
		if req.Categories != nil {
			if err := deps.Store.SetPostCategories(id, req.Categories); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save categories: %v", err)
				return
			}
		}
		if req.Coauthors != nil {
			if err := deps.Store.SetPostCoauthors(id, req.Coauthors); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save co-authors: %v", err)
				return
			}
		}
		for key, values := range req.Meta {
			if err := replaceMeta(deps.Store, id, key, values); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save meta %q: %v", key, err)
				return
			}
		}

		saved, err := deps.Store.GetPost(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read post: %v", err)
			return
		}

		scheduled, err := deps.Scheduler.OnTransition(saved.Status, oldStatus, saved)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "post saved but transition failed: %v", err)
			return
		}
		deps.Logger.Debug("post saved", "post_id", id, "status", saved.Status, "previous_status", oldStatus)

		writeJSON(w, http.StatusOK, PostResponse{
			Post:           saved,
			PreviousStatus: oldStatus,
			Scheduled:      scheduled,
		})
	}
}

func replaceMeta(store *storage.Store, postID int64, key string, values []string) error {
	if err := store.DeletePostMeta(postID, key); err != nil {
		return err
	}
	for _, v := range values {
		if err := store.AddPostMeta(postID, key, v); err != nil {
			return err
		}
	}
	return nil
}

type UserRequest struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

func handlePutUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := postIDParam(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req UserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Login == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "login is required")
			return
		}

		u := storage.User{ID: id, Login: req.Login, DisplayName: req.DisplayName}
		if u.DisplayName == "" {
			u.DisplayName = u.Login
		}
		if err := deps.Store.SaveUser(u); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save user: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

type UsageResponse struct {
	PostID    int64         `json:"post_id"`
	Attempted bool          `json:"attempted"`
	Flagged   bool          `json:"errors_flag"`
	Record    *usage.Record `json:"record"`
}

func handleSendUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := postIDParam(w, r)
		if !ok {
			return
		}
		if !postExists(w, deps.Store, id) {
			return
		}

		rec, err := deps.Reporter.Send(r.Context(), id, false)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "usage attempt failed: %v", err)
			return
		}
		attempted := rec != nil

		stored, flagged, err := deps.Reporter.Record(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read usage record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, UsageResponse{PostID: id, Attempted: attempted, Flagged: flagged, Record: stored})
	}
}

func handleGetUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := postIDParam(w, r)
		if !ok {
			return
		}
		if !postExists(w, deps.Store, id) {
			return
		}

		rec, flagged, err := deps.Reporter.Record(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read usage record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, UsageResponse{PostID: id, Flagged: flagged, Record: rec})
	}
}

func handleSweep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Scheduler.DailySweep(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sweep stopped after %d posts: %v", n, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"attempted": n})
	}
}

func postExists(w http.ResponseWriter, store *storage.Store, id int64) bool {
	_, err := store.GetPost(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "post %d not found", id)
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read post: %v", err)
		return false
	}
	return true
}
