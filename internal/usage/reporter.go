// Package usage reports which hub images a post uses.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mailonline/chpusage/internal/chp"
	"github.com/mailonline/chpusage/internal/notify"
	"github.com/mailonline/chpusage/internal/storage"
)

// Store is the subset of the host store the reporter reads and writes.
type Store interface {
	GetPost(id int64) (storage.Post, error)
	GetPostMeta(postID int64, key string) (string, bool, error)
	UpdatePostMeta(postID int64, key, value string) error
	DeletePostMeta(postID int64, key string) error
	PostCategories(postID int64) ([]string, error)
	AcquirePostLease(postID int64, owner string, ttl time.Duration) (bool, error)
	ReleasePostLease(postID int64, owner string) error
}

// ImageLocator finds the hub images a post uses.
type ImageLocator interface {
	Images(ctx context.Context, post storage.Post) ([]storage.Attachment, error)
}

// Hub is the content hub client.
type Hub interface {
	AssetQuerier
	PostUsage(ctx context.Context, body string) (chp.Response, error)
	Configured() bool
}

// Notifier receives one alert per failed image.
type Notifier interface {
	Notify(ctx context.Context, a notify.Alert)
}

// RetryScheduler arms the next attempt for a post.
type RetryScheduler interface {
	ScheduleRetry(postID int64, at time.Time) error
}

// Deps wires a Reporter.
type Deps struct {
	Store    Store
	Locator  ImageLocator
	Hub      Hub
	Template *Template
	Authors  AuthorResolver
	Notifier Notifier
	Retries  RetryScheduler

	// MaxRetries is the attempt budget a publish grants; RetryDelay is the
	// wait before the next attempt after a failure.
	MaxRetries int
	RetryDelay time.Duration
}

// Reporter sends usage documents for the hub images of a post and keeps the
// post's usage record.
type Reporter struct {
	deps     Deps
	resolver *Resolver
	locks    postLocks
	owner    string
	leaseTTL time.Duration
	poll     time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewReporter(deps Deps) *Reporter {
	return &Reporter{
		deps:     deps,
		resolver: NewResolver(deps.Hub),
		owner:    uuid.NewString(),
		leaseTTL: defaultLeaseTTL,
		poll:     defaultLeasePoll,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger attempts are reported to.
func (r *Reporter) WithLogger(l *slog.Logger) *Reporter {
	r.logger = l
	return r
}

// Configured reports whether a hub endpoint and a usage template are set.
// An unconfigured reporter does nothing.
func (r *Reporter) Configured() bool {
	return r.deps.Hub != nil && r.deps.Hub.Configured() && r.deps.Template != nil
}

// MaxRetries is the attempt budget a publish grants.
func (r *Reporter) MaxRetries() int {
	return r.deps.MaxRetries
}

// Send runs one usage attempt for the post and returns the persisted record.
//
// It returns nil without doing anything when the reporter is unconfigured,
// the post does not exist, or, unless daily is set, the post has no attempts
// left. A failed attempt outside the daily sweep uses up one attempt and
// schedules the next one. Hub and lookup failures are recorded on the
// record; the error is reserved for the host store.
//
// Attempts for the same post run one at a time, also across processes
// sharing the store.
func (r *Reporter) Send(ctx context.Context, postID int64, daily bool) (*Record, error) {
	if !r.Configured() {
		return nil, nil
	}

	release, err := r.hold(ctx, postID)
	if err != nil {
		return nil, err
	}
	defer release()

	post, err := r.deps.Store.GetPost(postID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading post %d: %w", postID, err)
	}

	rec, err := r.loadRecord(postID)
	if err != nil {
		return nil, err
	}

	countdown := rec.Countdown(r.deps.MaxRetries)
	if !daily && countdown <= 0 {
		r.logger.Debug("no attempts left, skipping", "post_id", postID)
		return nil, nil
	}

	images, err := r.deps.Locator.Images(ctx, post)
	if err != nil {
		return nil, err
	}

	var fields *PostFields
	failures := 0
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			// Keep what was learned so far; counters are left for the next attempt.
			if saveErr := r.saveRecord(postID, rec); saveErr != nil {
				return nil, saveErr
			}
			return nil, err
		}

		u := rec.Image(img.ID)
		if u.Done() {
			continue
		}
		r.renew(postID)

		r.resolver.Resolve(ctx, img, u, false)
		if u.AssetID == "" {
			r.resolver.Resolve(ctx, img, u, true)
		}

		var failure string
		var response any = ""
		if u.AssetID == "" {
			failure = ErrNoAssetID
		} else {
			if fields == nil {
				f, err := r.postFields(post)
				if err != nil {
					if saveErr := r.saveRecord(postID, rec); saveErr != nil {
						return nil, saveErr
					}
					return nil, err
				}
				fields = &f
			}
			failure, response = r.post(ctx, *fields, u.AssetID)
		}

		if failure != "" {
			failures++
			u.Error = failure
			r.logger.Info("usage report failed", "post_id", postID, "image_id", img.ID, "error", failure)
			if r.deps.Notifier != nil {
				r.deps.Notifier.Notify(ctx, notify.Alert{
					PostID:    post.ID,
					Permalink: post.Permalink,
					Title:     post.Title,
					Error:     failure,
					ImageID:   img.ID,
					Response:  response,
				})
			}
			continue
		}

		u.Error = ""
		u.Status = StatusCreated
		r.logger.Debug("usage reported", "post_id", postID, "image_id", img.ID, "asset_id", u.AssetID)
	}

	rec.SetErrors(failures)
	if failures > 0 && !daily {
		rec.SetRetries(countdown - 1)
	}

	// The record goes first: it holds the 201s, which must never be sent again
	// even if flagging or scheduling fails below.
	if err := r.saveRecord(postID, rec); err != nil {
		return nil, err
	}

	if failures == 0 {
		if err := r.deps.Store.DeletePostMeta(postID, MetaErrorFlag); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err := r.deps.Store.UpdatePostMeta(postID, MetaErrorFlag, "1"); err != nil {
		return nil, err
	}
	if !daily {
		if err := r.deps.Retries.ScheduleRetry(postID, r.now().Add(r.deps.RetryDelay)); err != nil {
			return nil, fmt.Errorf("scheduling retry of post %d: %w", postID, err)
		}
	}
	return rec, nil
}

// post renders and sends one usage document. It returns the failure message,
// empty on success, and the response summary for alerts.
func (r *Reporter) post(ctx context.Context, fields PostFields, assetID string) (string, any) {
	body, err := r.deps.Template.Render(fields, assetID)
	if err != nil {
		r.logger.Warn("usage template failed", "post_id", fields.PostID, "error", err)
		return ErrTemplate, map[string]string{"error": err.Error()}
	}

	resp, err := r.deps.Hub.PostUsage(ctx, body)
	if err != nil {
		return ErrTransport, map[string]string{"error": err.Error()}
	}
	if resp.Status != StatusCreated {
		return errStatus(resp.Status), resp
	}
	return "", resp
}

func (r *Reporter) postFields(post storage.Post) (PostFields, error) {
	categories, err := r.deps.Store.PostCategories(post.ID)
	if err != nil {
		return PostFields{}, err
	}
	var authors []Author
	if r.deps.Authors != nil {
		if authors, err = r.deps.Authors.Authors(post); err != nil {
			return PostFields{}, err
		}
	}
	return NewPostFields(post, categories, authors), nil
}

// ResetRetries grants the post a full attempt budget.
func (r *Reporter) ResetRetries(postID int64) error {
	release, err := r.hold(context.Background(), postID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := r.loadRecord(postID)
	if err != nil {
		return err
	}
	rec.SetRetries(r.deps.MaxRetries)
	return r.saveRecord(postID, rec)
}

// Record returns the post's persisted usage record and whether its error
// flag is set. A post without a record gets an empty one.
func (r *Reporter) Record(postID int64) (*Record, bool, error) {
	unlock := r.locks.lock(postID)
	defer unlock()

	rec, err := r.loadRecord(postID)
	if err != nil {
		return nil, false, err
	}
	_, flagged, err := r.deps.Store.GetPostMeta(postID, MetaErrorFlag)
	if err != nil {
		return nil, false, err
	}
	return rec, flagged, nil
}

func (r *Reporter) loadRecord(postID int64) (*Record, error) {
	raw, ok, err := r.deps.Store.GetPostMeta(postID, MetaRecord)
	if err != nil {
		return nil, err
	}
	rec := NewRecord()
	if !ok || raw == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		r.logger.Warn("discarding unreadable usage record", "post_id", postID, "error", err)
		return NewRecord(), nil
	}
	return rec, nil
}

func (r *Reporter) saveRecord(postID int64, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding usage record of post %d: %w", postID, err)
	}
	return r.deps.Store.UpdatePostMeta(postID, MetaRecord, string(data))
}
