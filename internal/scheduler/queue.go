// Package scheduler drives usage attempts: it reacts to publishes, runs
// retries when they fall due and sweeps flagged posts once a day.
package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mailonline/chpusage/internal/storage"
)

// Job types.
const (
	JobRetry      = "retry_chp_call"
	JobDailySweep = "daily_retry_chp_calls"
)

// JobStore is the job queue of the host store.
type JobStore interface {
	ScheduleOnce(typ, key, payloadJSON string, at time.Time) error
	ScheduleRecurring(typ, key, payloadJSON string, first time.Time, every time.Duration) error
	NextScheduled(typ, key string) (time.Time, bool, error)
	Unschedule(typ, key string) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

type retryPayload struct {
	PostID int64 `json:"post_id"`
}

// Queue schedules usage jobs.
type Queue struct {
	store JobStore
}

func NewQueue(store JobStore) *Queue {
	return &Queue{store: store}
}

// ScheduleRetry arms a usage attempt for the post at `at`. If one is already
// pending, the earlier of the two times is kept.
func (q *Queue) ScheduleRetry(postID int64, at time.Time) error {
	payload, err := json.Marshal(retryPayload{PostID: postID})
	if err != nil {
		return fmt.Errorf("marshaling retry payload: %w", err)
	}
	return q.store.ScheduleOnce(JobRetry, strconv.FormatInt(postID, 10), string(payload), at)
}

// NextRetry returns when the post's next attempt is due, if one is pending.
func (q *Queue) NextRetry(postID int64) (time.Time, bool, error) {
	return q.store.NextScheduled(JobRetry, strconv.FormatInt(postID, 10))
}

// EnsureDailySweep arms the recurring sweep unless it is already scheduled.
func (q *Queue) EnsureDailySweep(first time.Time) error {
	return q.store.ScheduleRecurring(JobDailySweep, "", "{}", first, 24*time.Hour)
}

// CancelDailySweep removes the recurring sweep.
func (q *Queue) CancelDailySweep() error {
	return q.store.Unschedule(JobDailySweep, "")
}

// NextSweep returns when the daily sweep is next due, if it is scheduled.
func (q *Queue) NextSweep() (time.Time, bool, error) {
	return q.store.NextScheduled(JobDailySweep, "")
}

func parseRetryPayload(job *storage.Job) (int64, error) {
	var p retryPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return 0, fmt.Errorf("parsing payload: %w", err)
	}
	if p.PostID <= 0 {
		return 0, fmt.Errorf("job %s has no post_id", job.ID)
	}
	return p.PostID, nil
}
