package storage

import (
	"testing"
	"time"
)

func TestCreateAndGetAttachment(t *testing.T) {
	s := openTestStore(t)

	a, err := s.CreateAttachment(Attachment{
		AuthorID:    3,
		Title:       "Sunset",
		Caption:     "A sunset",
		Description: "Long description",
		Alt:         "orange sky",
		File:        "2026/10/sunset.jpg",
		MimeType:    "image/jpeg",
		GlobalID:    "abc-123",
	})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("expected an assigned ID")
	}

	got, err := s.GetAttachment(a.ID)
	if err != nil {
		t.Fatalf("GetAttachment: %v", err)
	}
	if got.Title != "Sunset" || got.Caption != "A sunset" || got.Description != "Long description" {
		t.Errorf("text fields = %+v", got)
	}
	if got.Alt != "orange sky" || got.File != "2026/10/sunset.jpg" || got.GlobalID != "abc-123" {
		t.Errorf("meta fields = %+v", got)
	}
	if got.AuthorID != 3 || got.MimeType != "image/jpeg" {
		t.Errorf("author/mime = %d/%q", got.AuthorID, got.MimeType)
	}

	post, err := s.GetPost(a.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if post.Status != StatusInherit || post.Type != TypeAttachment {
		t.Errorf("attachment post = %+v", post)
	}
}

func TestGetAttachment_NotAttachment(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.SavePost(Post{ID: 8, Status: StatusPublish}); err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if _, err := s.GetAttachment(8); err != ErrNotFound {
		t.Errorf("GetAttachment(post) = %v, want ErrNotFound", err)
	}
}

func TestQueryAttachments_AllowListAndOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	older, err := s.CreateAttachment(Attachment{AuthorID: 1, Title: "older", Date: base})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	newer, err := s.CreateAttachment(Attachment{AuthorID: 1, Title: "newer", Date: base.Add(10 * time.Minute)})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	other, err := s.CreateAttachment(Attachment{AuthorID: 2, Title: "other uploader", Date: base})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	trashed, err := s.CreateAttachment(Attachment{AuthorID: 1, Title: "trashed", Date: base})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE posts SET status = 'trash' WHERE id = ?`, trashed.ID); err != nil {
		t.Fatalf("trashing: %v", err)
	}

	got, err := s.QueryAttachments(AttachmentQuery{
		IDs:     []int64{older.ID, newer.ID, other.ID, trashed.ID, 999},
		Authors: []int64{1},
	})
	if err != nil {
		t.Fatalf("QueryAttachments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d attachments, want 2: %+v", len(got), got)
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Errorf("order = [%d %d], want [%d %d]", got[0].ID, got[1].ID, newer.ID, older.ID)
	}
}

func TestQueryAttachments_EmptyInputs(t *testing.T) {
	s := openTestStore(t)

	a, err := s.CreateAttachment(Attachment{AuthorID: 1})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}

	for name, q := range map[string]AttachmentQuery{
		"no ids":     {Authors: []int64{1}},
		"no authors": {IDs: []int64{a.ID}},
	} {
		got, err := s.QueryAttachments(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) != 0 {
			t.Errorf("%s: got %d attachments, want 0", name, len(got))
		}
	}
}
