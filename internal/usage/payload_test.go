package usage

import (
	"strings"
	"testing"
	"time"

	"github.com/mailonline/chpusage/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFormatDate(t *testing.T) {
	loc := time.FixedZone("BST", 3600)
	got := FormatDate(time.Date(2026, 10, 16, 9, 30, 15, 999, loc))
	if got != "2026-10-16T08:30:15.000Z" {
		t.Errorf("FormatDate = %q", got)
	}
}

func TestFormatStatus(t *testing.T) {
	if got := FormatStatus("publish"); got != "published" {
		t.Errorf("FormatStatus(publish) = %q", got)
	}
	if got := FormatStatus("draft"); got != "draft" {
		t.Errorf("FormatStatus(draft) = %q", got)
	}
}

func TestAuthorStrategies(t *testing.T) {
	s := openTestStore(t)
	for _, u := range []storage.User{
		{ID: 1, Login: "ann", DisplayName: "Ann"},
		{ID: 2, Login: "bob", DisplayName: "Bob"},
	} {
		if err := s.SaveUser(u); err != nil {
			t.Fatal(err)
		}
	}

	post := storage.Post{ID: 10, AuthorID: 1}

	got, err := PostAuthor{Store: s}.Authors(post)
	if err != nil || len(got) != 1 || got[0].DisplayName != "Ann" {
		t.Errorf("PostAuthor = %+v, %v", got, err)
	}

	// No co-authors: falls back to the post author.
	got, err = CoAuthors{Store: s}.Authors(post)
	if err != nil || len(got) != 1 || got[0].DisplayName != "Ann" {
		t.Errorf("CoAuthors fallback = %+v, %v", got, err)
	}

	if err := s.SetPostCoauthors(10, []int64{2, 1}); err != nil {
		t.Fatal(err)
	}
	got, err = CoAuthors{Store: s}.Authors(post)
	if err != nil || len(got) != 2 || got[0].DisplayName != "Bob" || got[1].DisplayName != "Ann" {
		t.Errorf("CoAuthors = %+v, %v", got, err)
	}

	got, err = PostAuthor{Store: s}.Authors(storage.Post{ID: 11, AuthorID: 99})
	if err != nil || len(got) != 0 {
		t.Errorf("missing author = %+v, %v", got, err)
	}
}

func TestTemplateRender(t *testing.T) {
	tmpl, err := ParseTemplate(`<usage id="{{asset_id}}" post="{{post_id}}"><title>{{post_title}}</title>` +
		`<status>{{post_status}}</status><when>{{post_publish}}</when><mod>{{post_modified}}</mod>` +
		`<cat>{{post_category}}</cat><by>{{post_author}}</by><url>{{{post_url}}}</url></usage>`)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	post := storage.Post{
		ID:        42,
		Title:     "Fish & Chips <today>",
		Status:    storage.StatusPublish,
		Permalink: "https://news.example.com/?p=42&x=1",
		Date:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Modified:  time.Date(2026, 1, 3, 3, 4, 5, 0, time.UTC),
	}
	fields := NewPostFields(post, []string{"News", "UK"}, []Author{{ID: 1, DisplayName: "Ann"}, {ID: 2}, {ID: 3, DisplayName: "Bob"}})

	out, err := tmpl.Render(fields, "xyz1")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		`id="XYZ1"`,
		`post="42"`,
		`<title>Fish &amp; Chips &lt;today&gt;</title>`,
		`<status>published</status>`,
		`<when>2026-01-02T03:04:05.000Z</when>`,
		`<mod>2026-01-03T03:04:05.000Z</mod>`,
		`<cat>News,UK</cat>`,
		`<by>Ann,Bob</by>`,
		`<url>https://news.example.com/?p=42&x=1</url>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q:\n%s", want, out)
		}
	}
}

func TestParseTemplate_Invalid(t *testing.T) {
	if _, err := ParseTemplate("{{#open}}never closed"); err == nil {
		t.Error("expected parse error")
	}
}
