package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mailonline/chpusage/internal/storage"
	"github.com/mailonline/chpusage/internal/usage"
)

// Reporter runs usage attempts.
type Reporter interface {
	Send(ctx context.Context, postID int64, daily bool) (*usage.Record, error)
	ResetRetries(postID int64) error
	Configured() bool
}

// PostQuerier selects posts for the daily sweep.
type PostQuerier interface {
	QueryPosts(q storage.PostQuery) ([]storage.Post, error)
}

// Options tunes a Controller. Zero values take the defaults noted per field.
type Options struct {
	EnabledTypes []string
	PublishDelay time.Duration // wait between publish and the first attempt; 60s
	SweepWindow  time.Duration // how recently a post must have changed to be swept; 72h
	PageSize     int           // posts per sweep page; 100
	Throttle     time.Duration // pause between swept posts; 2s
}

func (o Options) withDefaults() Options {
	if o.PublishDelay <= 0 {
		o.PublishDelay = 60 * time.Second
	}
	if o.SweepWindow <= 0 {
		o.SweepWindow = 72 * time.Hour
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.Throttle < 0 {
		o.Throttle = 0
	}
	return o
}

// Controller decides when usage attempts run.
type Controller struct {
	reporter Reporter
	posts    PostQuerier
	queue    *Queue
	opts     Options
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

func NewController(reporter Reporter, posts PostQuerier, queue *Queue, opts Options) *Controller {
	return &Controller{
		reporter: reporter,
		posts:    posts,
		queue:    queue,
		opts:     opts.withDefaults(),
		now:      time.Now,
		sleep:    sleepCtx,
		logger:   slog.Default(),
	}
}

// WithLogger sets the controller's logger.
func (c *Controller) WithLogger(l *slog.Logger) *Controller {
	c.logger = l
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enabled reports whether posts of the given type take part in usage reporting.
func (c *Controller) Enabled(postType string) bool {
	return slices.Contains(c.opts.EnabledTypes, postType)
}

// OnTransition handles a post status change. When an enabled post becomes
// published, its attempt budget is reset and the first attempt is scheduled
// after the publish delay. It reports whether an attempt was scheduled.
func (c *Controller) OnTransition(newStatus, oldStatus string, post storage.Post) (bool, error) {
	if !c.reporter.Configured() {
		return false, nil
	}
	if post.IsRevision() || post.Status == storage.StatusAutoDraft || !c.Enabled(post.Type) {
		return false, nil
	}
	if newStatus != storage.StatusPublish || oldStatus == storage.StatusPublish {
		return false, nil
	}

	if err := c.reporter.ResetRetries(post.ID); err != nil {
		return false, fmt.Errorf("resetting retries of post %d: %w", post.ID, err)
	}
	at := c.now().Add(c.opts.PublishDelay)
	if err := c.queue.ScheduleRetry(post.ID, at); err != nil {
		return false, fmt.Errorf("scheduling first attempt of post %d: %w", post.ID, err)
	}
	c.logger.Info("post published, usage attempt scheduled", "post_id", post.ID, "at", at)
	return true, nil
}

// HandleRetry runs a scheduled attempt. It is the handler for JobRetry.
func (c *Controller) HandleRetry(ctx context.Context, job *storage.Job) error {
	postID, err := parseRetryPayload(job)
	if err != nil {
		return err
	}
	_, err = c.reporter.Send(ctx, postID, false)
	return err
}

// HandleDailySweep is the handler for JobDailySweep.
func (c *Controller) HandleDailySweep(ctx context.Context, _ *storage.Job) error {
	_, err := c.DailySweep(ctx)
	return err
}

// DailySweep retries every published, enabled post that still has failed
// images and changed within the sweep window, regardless of its remaining
// attempts. It returns the number of posts attempted. A post whose attempt
// fails is logged and skipped; only cancellation or a failed query ends the
// sweep early.
func (c *Controller) DailySweep(ctx context.Context) (int, error) {
	if !c.reporter.Configured() || len(c.opts.EnabledTypes) == 0 {
		return 0, nil
	}

	q := storage.PostQuery{
		Types:         c.opts.EnabledTypes,
		Status:        storage.StatusPublish,
		MetaKey:       usage.MetaErrorFlag,
		MetaValue:     "1",
		ModifiedAfter: c.now().Add(-c.opts.SweepWindow),
		Limit:         c.opts.PageSize,
	}

	attempted, failed := 0, 0
	for {
		page, err := c.posts.QueryPosts(q)
		if err != nil {
			return attempted, fmt.Errorf("querying flagged posts: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, p := range page {
			if attempted > 0 {
				if err := c.sleep(ctx, c.opts.Throttle); err != nil {
					return attempted, err
				}
			}
			_, err := c.reporter.Send(ctx, p.ID, true)
			attempted++
			if err != nil {
				if ctx.Err() != nil {
					return attempted, ctx.Err()
				}
				failed++
				c.logger.Warn("sweep attempt failed", "post_id", p.ID, "error", err)
			}
		}
		q.AfterID = page[len(page)-1].ID
	}

	c.logger.Info("daily sweep finished", "posts", attempted, "failed", failed)
	return attempted, nil
}

// Activate keeps the daily sweep scheduled while reporting is configured,
// first due immediately, and removes it otherwise.
func (c *Controller) Activate() error {
	if !c.reporter.Configured() {
		return c.queue.CancelDailySweep()
	}
	return c.queue.EnsureDailySweep(c.now())
}

// Register installs the controller's job handlers on w.
func (c *Controller) Register(w *Worker) {
	w.Handle(JobRetry, c.HandleRetry)
	w.Handle(JobDailySweep, c.HandleDailySweep)
}
