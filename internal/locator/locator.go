// Package locator finds the content hub images a post uses.
package locator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mailonline/chpusage/internal/storage"
)

var (
	inlineImageRe = regexp.MustCompile(`wp-image-(\d+)`)
	galleryIDsRe  = regexp.MustCompile(`ids="([^"]*)"`)
)

// CompositionKeys are the meta keys, newest first, under which an image
// composition records the images it was built from.
var CompositionKeys = []string{
	"mdt_image_composition_source_id",
	"metro_image_comp_source_id",
}

// Store is the subset of the host store the locator reads.
type Store interface {
	GetPostMetaValues(postID int64, key string) ([]string, error)
	QueryAttachments(q storage.AttachmentQuery) ([]storage.Attachment, error)
}

// Locator collects candidate image IDs from a post and keeps those
// uploaded by the content hub accounts.
type Locator struct {
	store    Store
	metaKeys []string
	users    []int64
}

// New creates a locator. metaKeys are the post meta keys holding images set
// outside the content (social, leading, SEO images); users is the uploader
// allow-list.
func New(store Store, metaKeys []string, users []int64) *Locator {
	return &Locator{store: store, metaKeys: metaKeys, users: users}
}

// Images returns the allow-listed attachments the post uses, newest first.
// The result is empty, without a store query, when no candidate was found or
// the allow-list is empty.
func (l *Locator) Images(ctx context.Context, post storage.Post) ([]storage.Attachment, error) {
	if len(l.users) == 0 {
		return nil, nil
	}

	ids, err := l.candidates(post)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	images, err := l.store.QueryAttachments(storage.AttachmentQuery{IDs: ids, Authors: l.users})
	if err != nil {
		return nil, fmt.Errorf("querying images of post %d: %w", post.ID, err)
	}
	return images, nil
}

func (l *Locator) candidates(post storage.Post) ([]int64, error) {
	set := make(map[int64]struct{})
	add := func(raw string) {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err == nil && id > 0 {
			set[id] = struct{}{}
		}
	}

	for _, m := range inlineImageRe.FindAllStringSubmatch(post.Content, -1) {
		add(m[1])
	}
	for _, m := range galleryIDsRe.FindAllStringSubmatch(post.Content, -1) {
		for _, id := range strings.Split(m[1], ",") {
			add(id)
		}
	}

	singleKeys := append([]string{storage.MetaThumbnailID}, l.metaKeys...)
	for _, key := range singleKeys {
		values, err := l.store.GetPostMetaValues(post.ID, key)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			add(values[0])
		}
	}

	// Compositions are expanded one level, from the IDs found so far.
	found := sortedIDs(set)
	for _, id := range found {
		for _, key := range CompositionKeys {
			values, err := l.store.GetPostMetaValues(id, key)
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				add(v)
			}
		}
	}

	return sortedIDs(set), nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
