package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const postColumns = `id, post_type, status, title, content, excerpt, permalink, author_id, parent_id, date_gmt, modified_gmt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var p Post
	var date, modified string
	if err := row.Scan(&p.ID, &p.Type, &p.Status, &p.Title, &p.Content, &p.Excerpt, &p.Permalink,
		&p.AuthorID, &p.ParentID, &date, &modified); err != nil {
		return Post{}, err
	}
	var err error
	if p.Date, err = parseTime("date_gmt", date); err != nil {
		return Post{}, err
	}
	if p.Modified, err = parseTime("modified_gmt", modified); err != nil {
		return Post{}, err
	}
	return p, nil
}

// --- Posts ---

// SavePost inserts or replaces a post and returns the status it had before the
// write, or StatusNew when the post did not exist.
func (s *Store) SavePost(p Post) (string, error) {
	now := time.Now().UTC()
	if p.Date.IsZero() {
		p.Date = now
	}
	if p.Modified.IsZero() {
		p.Modified = now
	}
	if p.Type == "" {
		p.Type = "post"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	oldStatus := StatusNew
	err = tx.QueryRow(`SELECT status FROM posts WHERE id = ?`, p.ID).Scan(&oldStatus)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("reading previous status: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO posts (id, post_type, status, title, content, excerpt, permalink, author_id, parent_id, date_gmt, modified_gmt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			post_type = excluded.post_type, status = excluded.status, title = excluded.title,
			content = excluded.content, excerpt = excluded.excerpt, permalink = excluded.permalink,
			author_id = excluded.author_id, parent_id = excluded.parent_id,
			date_gmt = excluded.date_gmt, modified_gmt = excluded.modified_gmt`,
		p.ID, p.Type, p.Status, p.Title, p.Content, p.Excerpt, p.Permalink, p.AuthorID, p.ParentID,
		formatTime(p.Date), formatTime(p.Modified),
	)
	if err != nil {
		return "", fmt.Errorf("saving post %d: %w", p.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing post %d: %w", p.ID, err)
	}
	return oldStatus, nil
}

func (s *Store) GetPost(id int64) (Post, error) {
	p, err := scanPost(s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return p, nil
}

// QueryPosts returns posts matching q ordered by ascending ID, so callers can
// page with AfterID set to the last ID of the previous page.
func (s *Store) QueryPosts(q PostQuery) ([]Post, error) {
	var where []string
	var args []any

	if len(q.Types) > 0 {
		where = append(where, "p.post_type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if q.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, q.Status)
	}
	if !q.ModifiedAfter.IsZero() {
		where = append(where, "p.modified_gmt > ?")
		args = append(args, formatTime(q.ModifiedAfter))
	}
	if q.AfterID > 0 {
		where = append(where, "p.id > ?")
		args = append(args, q.AfterID)
	}
	if q.MetaKey != "" {
		where = append(where, "EXISTS (SELECT 1 FROM post_meta m WHERE m.post_id = p.id AND m.meta_key = ? AND m.meta_value = ?)")
		args = append(args, q.MetaKey, q.MetaValue)
	}

	query := `SELECT ` + prefixed("p.", postColumns) + ` FROM posts p`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var results []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i := range parts {
		parts[i] = prefix + parts[i]
	}
	return strings.Join(parts, ", ")
}

// --- Post meta ---

// GetPostMeta returns the first value stored under key, and whether one exists.
func (s *Store) GetPostMeta(postID int64, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT meta_value FROM post_meta WHERE post_id = ? AND meta_key = ? ORDER BY meta_id ASC LIMIT 1`,
		postID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading meta %s of post %d: %w", key, postID, err)
	}
	return v, true, nil
}

// GetPostMetaValues returns every value stored under key in insertion order.
func (s *Store) GetPostMetaValues(postID int64, key string) ([]string, error) {
	rows, err := s.db.Query(`SELECT meta_value FROM post_meta WHERE post_id = ? AND meta_key = ? ORDER BY meta_id ASC`, postID, key)
	if err != nil {
		return nil, fmt.Errorf("reading meta %s of post %d: %w", key, postID, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// UpdatePostMeta replaces every value under key with a single value.
func (s *Store) UpdatePostMeta(postID int64, key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning meta transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM post_meta WHERE post_id = ? AND meta_key = ?`, postID, key); err != nil {
		return fmt.Errorf("clearing meta %s of post %d: %w", key, postID, err)
	}
	if _, err := tx.Exec(`INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)`, postID, key, value); err != nil {
		return fmt.Errorf("writing meta %s of post %d: %w", key, postID, err)
	}
	return tx.Commit()
}

// AddPostMeta appends a value under key without touching existing values.
func (s *Store) AddPostMeta(postID int64, key, value string) error {
	_, err := s.db.Exec(`INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)`, postID, key, value)
	if err != nil {
		return fmt.Errorf("adding meta %s to post %d: %w", key, postID, err)
	}
	return nil
}

// DeletePostMeta removes every value under key. Deleting an absent key is not an error.
func (s *Store) DeletePostMeta(postID int64, key string) error {
	if _, err := s.db.Exec(`DELETE FROM post_meta WHERE post_id = ? AND meta_key = ?`, postID, key); err != nil {
		return fmt.Errorf("deleting meta %s of post %d: %w", key, postID, err)
	}
	return nil
}

// --- Users ---

func (s *Store) SaveUser(u User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, login, display_name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET login = excluded.login, display_name = excluded.display_name`,
		u.ID, u.Login, u.DisplayName,
	)
	return err
}

func (s *Store) GetUser(id int64) (User, error) {
	var u User
	err := s.db.QueryRow(`SELECT id, login, display_name FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Login, &u.DisplayName)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// --- Categories ---

// SetPostCategories replaces the post's categories, creating missing ones by name.
func (s *Store) SetPostCategories(postID int64, names []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning category transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM post_categories WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("clearing categories of post %d: %w", postID, err)
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
			return fmt.Errorf("creating category %q: %w", name, err)
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO post_categories (post_id, category_id)
			SELECT ?, id FROM categories WHERE name = ?`, postID, name); err != nil {
			return fmt.Errorf("linking category %q to post %d: %w", name, postID, err)
		}
	}
	return tx.Commit()
}

// PostCategories returns the post's category names ordered by name.
func (s *Store) PostCategories(postID int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT c.name FROM categories c
		JOIN post_categories pc ON pc.category_id = c.id
		WHERE pc.post_id = ? ORDER BY c.name ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("reading categories of post %d: %w", postID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- Co-authors ---

// SetPostCoauthors replaces the post's ordered co-author list.
func (s *Store) SetPostCoauthors(postID int64, userIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning co-author transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM post_coauthors WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("clearing co-authors of post %d: %w", postID, err)
	}
	for i, uid := range userIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO post_coauthors (post_id, user_id, position) VALUES (?, ?, ?)`, postID, uid, i); err != nil {
			return fmt.Errorf("adding co-author %d to post %d: %w", uid, postID, err)
		}
	}
	return tx.Commit()
}

// PostCoauthors returns the post's co-authors in their stored order.
// Co-authors without a user row are skipped.
func (s *Store) PostCoauthors(postID int64) ([]User, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.login, u.display_name FROM post_coauthors pc
		JOIN users u ON u.id = pc.user_id
		WHERE pc.post_id = ? ORDER BY pc.position ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("reading co-authors of post %d: %w", postID, err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Login, &u.DisplayName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
