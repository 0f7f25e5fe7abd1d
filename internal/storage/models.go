package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Post statuses and types the pipeline cares about.
const (
	StatusPublish   = "publish"
	StatusAutoDraft = "auto-draft"
	StatusNew       = "new"
	StatusInherit   = "inherit"

	TypeAttachment = "attachment"
	TypeRevision   = "revision"
)

// Well-known meta keys.
const (
	MetaAttachedFile = "_wp_attached_file"
	MetaImageAlt     = "_wp_attachment_image_alt"
	MetaThumbnailID  = "_thumbnail_id"
	MetaGlobalID     = "chp_global_id"
)

type Post struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Excerpt   string    `json:"excerpt"`
	Permalink string    `json:"permalink"`
	AuthorID  int64     `json:"author"`
	ParentID  int64     `json:"parent"`
	Date      time.Time `json:"date_gmt"`
	Modified  time.Time `json:"modified_gmt"`
}

// IsRevision reports whether the post is an autosave/revision copy of another post.
func (p Post) IsRevision() bool {
	return p.Type == TypeRevision
}

type User struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Attachment is an uploaded media item joined with the meta the pipeline reads.
type Attachment struct {
	ID          int64     `json:"id"`
	AuthorID    int64     `json:"author"`
	ParentID    int64     `json:"post"`
	Title       string    `json:"title"`
	Caption     string    `json:"caption"`
	Description string    `json:"description"`
	Alt         string    `json:"alt_text"`
	File        string    `json:"file"`
	MimeType    string    `json:"mime_type"`
	GlobalID    string    `json:"chp_global_id,omitempty"`
	Date        time.Time `json:"date_gmt"`
}

// PostQuery selects posts for batch work. Zero-valued fields do not filter.
type PostQuery struct {
	Types         []string
	Status        string
	MetaKey       string
	MetaValue     string
	ModifiedAfter time.Time
	AfterID       int64
	Limit         int
}

// AttachmentQuery selects attachments by ID restricted to a set of uploaders.
type AttachmentQuery struct {
	IDs     []int64
	Authors []int64
}

type Job struct {
	ID          string
	Type        string
	Key         string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	Interval    time.Duration // > 0 for recurring jobs
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
