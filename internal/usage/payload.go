package usage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/mailonline/chpusage/internal/storage"
)

// hubTimeLayout is the UTC, millisecond-padded layout the hub expects.
const hubTimeLayout = "2006-01-02T15:04:05.000Z"

// Author is one credited author of a post.
type Author struct {
	ID          int64
	DisplayName string
}

// AuthorResolver lists the authors credited on a post.
type AuthorResolver interface {
	Authors(post storage.Post) ([]Author, error)
}

// UserStore is the subset of the host store author strategies read.
type UserStore interface {
	GetUser(id int64) (storage.User, error)
	PostCoauthors(postID int64) ([]storage.User, error)
}

// PostAuthor credits the post's single author.
type PostAuthor struct {
	Store UserStore
}

func (a PostAuthor) Authors(post storage.Post) ([]Author, error) {
	u, err := a.Store.GetUser(post.AuthorID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading author of post %d: %w", post.ID, err)
	}
	return []Author{{ID: u.ID, DisplayName: u.DisplayName}}, nil
}

// CoAuthors credits the post's co-author list in order, or the post author
// when the list is empty.
type CoAuthors struct {
	Store UserStore
}

func (a CoAuthors) Authors(post storage.Post) ([]Author, error) {
	users, err := a.Store.PostCoauthors(post.ID)
	if err != nil {
		return nil, fmt.Errorf("reading co-authors of post %d: %w", post.ID, err)
	}
	if len(users) == 0 {
		return PostAuthor{Store: a.Store}.Authors(post)
	}
	authors := make([]Author, 0, len(users))
	for _, u := range users {
		authors = append(authors, Author{ID: u.ID, DisplayName: u.DisplayName})
	}
	return authors, nil
}

// FormatStatus maps a host post status to the hub's vocabulary.
func FormatStatus(status string) string {
	if status == storage.StatusPublish {
		return "published"
	}
	return status
}

// FormatDate renders t in UTC with a zero millisecond field.
func FormatDate(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(hubTimeLayout)
}

// PostFields are the post-level template variables; they are the same for
// every image of the post.
type PostFields struct {
	PostID       int64
	PostURL      string
	PostTitle    string
	PostStatus   string
	PostPublish  string
	PostModified string
	PostCategory string
	PostAuthor   string
}

// NewPostFields gathers the template variables of a post.
func NewPostFields(post storage.Post, categories []string, authors []Author) PostFields {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.DisplayName != "" {
			names = append(names, a.DisplayName)
		}
	}
	return PostFields{
		PostID:       post.ID,
		PostURL:      post.Permalink,
		PostTitle:    post.Title,
		PostStatus:   FormatStatus(post.Status),
		PostPublish:  FormatDate(post.Date),
		PostModified: FormatDate(post.Modified),
		PostCategory: strings.Join(categories, ","),
		PostAuthor:   strings.Join(names, ","),
	}
}

// Data returns the flat template context for one asset.
func (f PostFields) Data(assetID string) map[string]any {
	return map[string]any{
		"asset_id":      strings.ToUpper(assetID),
		"post_id":       f.PostID,
		"post_url":      f.PostURL,
		"post_title":    f.PostTitle,
		"post_status":   f.PostStatus,
		"post_publish":  f.PostPublish,
		"post_modified": f.PostModified,
		"post_category": f.PostCategory,
		"post_author":   f.PostAuthor,
	}
}

// Template renders usage documents. Double-brace variables are escaped for
// markup; triple-brace ones are inserted raw.
type Template struct {
	tmpl *mustache.Template
}

// ParseTemplate compiles a Mustache usage template.
func ParseTemplate(src string) (*Template, error) {
	tmpl, err := mustache.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parsing usage template: %w", err)
	}
	return &Template{tmpl: tmpl}, nil
}

// Render fills the template for one asset of the post.
func (t *Template) Render(fields PostFields, assetID string) (string, error) {
	out, err := t.tmpl.Render(fields.Data(assetID))
	if err != nil {
		return "", fmt.Errorf("rendering usage template: %w", err)
	}
	return out, nil
}
