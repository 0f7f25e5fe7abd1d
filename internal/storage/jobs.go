package storage

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, type, job_key, payload_json, status, attempts, max_attempts, interval_seconds, run_after, created_at, updated_at, last_error`

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var intervalSeconds int64
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.Key, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&intervalSeconds, &runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.Interval = time.Duration(intervalSeconds) * time.Second
	j.LastError = lastError.String
	var err error
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}

// EnqueueJob inserts a pending job. Missing ID, RunAfter and MaxAttempts are defaulted.
func (s *Store) EnqueueJob(job Job) error {
	now := formatTime(time.Now())
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.PayloadJSON == "" {
		job.PayloadJSON = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, job_key, payload_json, status, attempts, max_attempts, interval_seconds, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Key, job.PayloadJSON, maxAttempts, int64(job.Interval/time.Second), runAfter, now, now,
	)
	return err
}

// ScheduleOnce arms a one-off job of the given type and key at `at`. If a
// pending job with the same type and key already exists, the earlier of the
// two run times wins and no second job is created.
func (s *Store) ScheduleOnce(typ, key, payloadJSON string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning schedule transaction: %w", err)
	}
	defer tx.Rollback()

	var id, runAfter string
	err = tx.QueryRow(`SELECT id, run_after FROM jobs WHERE type = ? AND job_key = ? AND status = 'pending' ORDER BY run_after ASC LIMIT 1`,
		typ, key).Scan(&id, &runAfter)
	switch {
	case err == sql.ErrNoRows:
		now := formatTime(time.Now())
		if payloadJSON == "" {
			payloadJSON = "{}"
		}
		if _, err := tx.Exec(`
			INSERT INTO jobs (id, type, job_key, payload_json, status, attempts, max_attempts, interval_seconds, run_after, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', 0, 3, 0, ?, ?, ?)`,
			uuid.New().String(), typ, key, payloadJSON, formatTime(at), now, now); err != nil {
			return fmt.Errorf("inserting %s job for %s: %w", typ, key, err)
		}
	case err != nil:
		return fmt.Errorf("looking up %s job for %s: %w", typ, key, err)
	default:
		existing, err := parseTime("run_after", runAfter)
		if err != nil {
			return err
		}
		if at.Before(existing) {
			if _, err := tx.Exec(`UPDATE jobs SET run_after = ?, updated_at = ? WHERE id = ?`,
				formatTime(at), formatTime(time.Now()), id); err != nil {
				return fmt.Errorf("moving %s job for %s: %w", typ, key, err)
			}
		}
	}

	return tx.Commit()
}

// ScheduleRecurring arms a recurring job first due at `first` and re-armed
// every `every` after each completion. It is a no-op when a pending or running
// job with the same type and key exists.
func (s *Store) ScheduleRecurring(typ, key, payloadJSON string, first time.Time, every time.Duration) error {
	if every < time.Second {
		return fmt.Errorf("recurrence interval %s is too short", every)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE type = ? AND job_key = ? AND status IN ('pending', 'running')`,
		typ, key).Scan(&n); err != nil {
		return fmt.Errorf("checking %s job for %s: %w", typ, key, err)
	}
	if n > 0 {
		return nil
	}
	return s.EnqueueJob(Job{
		Type:        typ,
		Key:         key,
		PayloadJSON: payloadJSON,
		RunAfter:    first,
		Interval:    every,
	})
}

// NextScheduled returns the earliest pending run time for the type and key.
func (s *Store) NextScheduled(typ, key string) (time.Time, bool, error) {
	var runAfter string
	err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE type = ? AND job_key = ? AND status = 'pending' ORDER BY run_after ASC LIMIT 1`,
		typ, key).Scan(&runAfter)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := parseTime("run_after", runAfter)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Unschedule removes pending jobs of the type and key. Running jobs finish,
// but a recurring one is not re-armed afterwards.
func (s *Store) Unschedule(typ, key string) error {
	if _, err := s.db.Exec(`DELETE FROM jobs WHERE type = ? AND job_key = ? AND status = 'pending'`, typ, key); err != nil {
		return fmt.Errorf("unscheduling %s job for %s: %w", typ, key, err)
	}
	_, err := s.db.Exec(`UPDATE jobs SET interval_seconds = 0 WHERE type = ? AND job_key = ? AND status = 'running'`, typ, key)
	return err
}

// PendingJobs lists pending jobs of a type ordered by run time.
func (s *Store) PendingJobs(typ string) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE type = ? AND status = 'pending' ORDER BY run_after ASC, created_at ASC`, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimNextJob marks the next due pending job of one of the given types as
// running and returns it, or nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (` + placeholders(len(types)) + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	j, err := scanJob(tx.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	if j.UpdatedAt, err = parseTime("updated_at", now); err != nil {
		return nil, err
	}
	return &j, nil
}

// CompleteJob marks a job completed. Recurring jobs go back to pending,
// due one interval after their previous run time (or after now, if that is
// already in the past).
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC()

	var intervalSeconds int64
	var runAfter string
	err := s.db.QueryRow(`SELECT interval_seconds, run_after FROM jobs WHERE id = ?`, id).Scan(&intervalSeconds, &runAfter)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if intervalSeconds > 0 {
		prev, err := parseTime("run_after", runAfter)
		if err != nil {
			return err
		}
		interval := time.Duration(intervalSeconds) * time.Second
		next := prev.Add(interval)
		if !next.After(now) {
			next = now.Add(interval)
		}
		_, err = s.db.Exec(`UPDATE jobs SET status = 'pending', attempts = 0, last_error = NULL, run_after = ?, updated_at = ? WHERE id = ?`,
			formatTime(next), formatTime(now), id)
		return err
	}

	_, err = s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(now), id)
	return err
}

// FailJob records a failed run. The job is retried with exponential backoff
// until max_attempts, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	var intervalSeconds int64
	err = tx.QueryRow(`SELECT attempts, max_attempts, interval_seconds FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts, &intervalSeconds)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	switch {
	case attempts >= maxAttempts && intervalSeconds > 0:
		// A recurring job that keeps failing waits for its next regular slot.
		next := now.Add(time.Duration(intervalSeconds) * time.Second)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = 0, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			errMsg, formatTime(next), formatTime(now), id)
	case attempts >= maxAttempts:
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	default:
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
