package storage

import (
	"fmt"
	"time"
)

const attachmentSelect = `
	SELECT p.id, p.author_id, p.parent_id, p.title, p.excerpt, p.content, p.mime_type, p.date_gmt,
		COALESCE((SELECT meta_value FROM post_meta m WHERE m.post_id = p.id AND m.meta_key = '` + MetaAttachedFile + `' ORDER BY meta_id LIMIT 1), ''),
		COALESCE((SELECT meta_value FROM post_meta m WHERE m.post_id = p.id AND m.meta_key = '` + MetaGlobalID + `' ORDER BY meta_id LIMIT 1), ''),
		COALESCE((SELECT meta_value FROM post_meta m WHERE m.post_id = p.id AND m.meta_key = '` + MetaImageAlt + `' ORDER BY meta_id LIMIT 1), '')
	FROM posts p`

func scanAttachment(row rowScanner) (Attachment, error) {
	var a Attachment
	var date string
	if err := row.Scan(&a.ID, &a.AuthorID, &a.ParentID, &a.Title, &a.Caption, &a.Description, &a.MimeType, &date,
		&a.File, &a.GlobalID, &a.Alt); err != nil {
		return Attachment{}, err
	}
	t, err := parseTime("date_gmt", date)
	if err != nil {
		return Attachment{}, err
	}
	a.Date = t
	return a, nil
}

// QueryAttachments returns attachments whose ID is in q.IDs and whose uploader
// is in q.Authors, newest first. Trashed and auto-draft attachments are
// excluded; every other status matches. Empty IDs or Authors match nothing.
func (s *Store) QueryAttachments(q AttachmentQuery) ([]Attachment, error) {
	if len(q.IDs) == 0 || len(q.Authors) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(q.IDs)+len(q.Authors)+1)
	args = append(args, TypeAttachment)
	for _, id := range q.IDs {
		args = append(args, id)
	}
	for _, a := range q.Authors {
		args = append(args, a)
	}

	query := attachmentSelect + `
		WHERE p.post_type = ? AND p.status NOT IN ('trash', 'auto-draft')
			AND p.id IN (` + placeholders(len(q.IDs)) + `)
			AND p.author_id IN (` + placeholders(len(q.Authors)) + `)
		ORDER BY p.date_gmt DESC, p.id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()

	var results []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// GetAttachment returns a single attachment by ID regardless of uploader.
func (s *Store) GetAttachment(id int64) (Attachment, error) {
	rows, err := s.db.Query(attachmentSelect+` WHERE p.id = ? AND p.post_type = ?`, id, TypeAttachment)
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Attachment{}, err
		}
		return Attachment{}, ErrNotFound
	}
	return scanAttachment(rows)
}

// CreateAttachment inserts a new attachment post with an auto-assigned ID and
// its file, alt text and global ID meta. The stored attachment is returned.
func (s *Store) CreateAttachment(a Attachment) (Attachment, error) {
	if a.Date.IsZero() {
		a.Date = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Attachment{}, fmt.Errorf("beginning attachment transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO posts (post_type, status, title, content, excerpt, author_id, parent_id, mime_type, date_gmt, modified_gmt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		TypeAttachment, StatusInherit, a.Title, a.Description, a.Caption, a.AuthorID, a.ParentID, a.MimeType,
		formatTime(a.Date), formatTime(a.Date),
	)
	if err != nil {
		return Attachment{}, fmt.Errorf("inserting attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment id: %w", err)
	}
	a.ID = id

	meta := []struct{ key, value string }{
		{MetaAttachedFile, a.File},
		{MetaImageAlt, a.Alt},
		{MetaGlobalID, a.GlobalID},
	}
	for _, m := range meta {
		if m.value == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)`, id, m.key, m.value); err != nil {
			return Attachment{}, fmt.Errorf("writing attachment meta %s: %w", m.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Attachment{}, fmt.Errorf("committing attachment: %w", err)
	}
	a.Date = a.Date.UTC().Truncate(time.Second)
	return a, nil
}
