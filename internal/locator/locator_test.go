package locator

import (
	"context"
	"errors"
	"reflect"
	"strconv"
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

func mustAttachment(t *testing.T, s *storage.Store, author int64, age time.Duration) int64 {
	t.Helper()
	a, err := s.CreateAttachment(storage.Attachment{AuthorID: author, Date: time.Now().UTC().Add(-age)})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	return a.ID
}

func imageIDs(images []storage.Attachment) []int64 {
	var ids []int64
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids
}

func TestImages_AllSources(t *testing.T) {
	s := openTestStore(t)
	const chp = 7

	inline := mustAttachment(t, s, chp, 6*time.Hour)
	gallery1 := mustAttachment(t, s, chp, 5*time.Hour)
	gallery2 := mustAttachment(t, s, chp, 4*time.Hour)
	thumb := mustAttachment(t, s, chp, 3*time.Hour)
	social := mustAttachment(t, s, chp, 2*time.Hour)
	source := mustAttachment(t, s, chp, time.Hour)
	legacySource := mustAttachment(t, s, chp, 30*time.Minute)
	unreferenced := mustAttachment(t, s, chp, 10*time.Minute)
	_ = unreferenced

	post := storage.Post{
		ID: 1000,
		Content: `<img class="wp-image-` + itoa(inline) + `" />` +
			`[gallery ids="` + itoa(gallery1) + `, ` + itoa(gallery2) + `"] [gallery link="file"]`,
	}
	if err := s.AddPostMeta(post.ID, storage.MetaThumbnailID, itoa(thumb)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPostMeta(post.ID, "social-img-id", itoa(social)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPostMeta(thumb, "mdt_image_composition_source_id", itoa(source)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPostMeta(social, "metro_image_comp_source_id", itoa(legacySource)); err != nil {
		t.Fatal(err)
	}

	l := New(s, []string{"social-img-id", "leading-image-id"}, []int64{chp})
	images, err := l.Images(context.Background(), post)
	if err != nil {
		t.Fatalf("Images: %v", err)
	}

	want := []int64{legacySource, source, social, thumb, gallery2, gallery1, inline}
	if got := imageIDs(images); !reflect.DeepEqual(got, want) {
		t.Errorf("images = %v, want %v", got, want)
	}
}

func TestImages_AllowList(t *testing.T) {
	s := openTestStore(t)

	chpImage := mustAttachment(t, s, 7, time.Hour)
	editorImage := mustAttachment(t, s, 8, time.Hour)
	post := storage.Post{ID: 1, Content: "wp-image-" + itoa(chpImage) + " wp-image-" + itoa(editorImage)}

	images, err := New(s, nil, []int64{7}).Images(context.Background(), post)
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if got := imageIDs(images); !reflect.DeepEqual(got, []int64{chpImage}) {
		t.Errorf("images = %v, want [%d]", got, chpImage)
	}
}

// countingStore fails the test if attachments are queried.
type countingStore struct {
	*storage.Store
	t *testing.T
}

func (c countingStore) QueryAttachments(q storage.AttachmentQuery) ([]storage.Attachment, error) {
	c.t.Errorf("unexpected attachment query: %+v", q)
	return nil, nil
}

func TestImages_NoQueryWhenNothingToFind(t *testing.T) {
	s := openTestStore(t)
	cs := countingStore{Store: s, t: t}

	images, err := New(cs, nil, []int64{7}).Images(context.Background(), storage.Post{ID: 1, Content: "plain text"})
	if err != nil || len(images) != 0 {
		t.Errorf("no candidates: images = %v, err = %v", images, err)
	}

	images, err = New(cs, nil, nil).Images(context.Background(), storage.Post{ID: 1, Content: "wp-image-5"})
	if err != nil || len(images) != 0 {
		t.Errorf("empty allow-list: images = %v, err = %v", images, err)
	}
}

type failingStore struct{ countingStore }

func (failingStore) GetPostMetaValues(int64, string) ([]string, error) {
	return nil, errors.New("db gone")
}

func TestImages_StoreError(t *testing.T) {
	fs := failingStore{countingStore{t: t}}
	if _, err := New(fs, nil, []int64{1}).Images(context.Background(), storage.Post{ID: 1}); err == nil {
		t.Error("expected error from store")
	}
}

func TestCandidates_GalleryIsNonGreedy(t *testing.T) {
	s := openTestStore(t)
	post := storage.Post{ID: 1, Content: `[gallery ids="1,2" columns="3"] text [gallery ids=" 4 ,x,5"]`}

	got, err := New(s, nil, []int64{1}).candidates(post)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if want := []int64{1, 2, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
