package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mailonline/chpusage/internal/storage"
)

const maxUploadSize = 32 << 20 // 32MB

// MediaOptions configures native media creation.
type MediaOptions struct {
	Dir    string // upload root; files land in Dir/YYYY/MM
	Author int64  // account uploads are attributed to
}

type mediaUpload struct {
	file        multipart.File
	filename    string
	contentType string
	title       string
	caption     string
	description string
	altText     string
	parent      int64
	globalID    string
}

// handleCreateMedia is the native media-creation endpoint: multipart field
// "file" plus optional title, caption, description, alt_text, post and
// chp_global_id fields.
func handleCreateMedia(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "rest_upload_no_data", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		up, err := formUpload(r.MultipartForm, "file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "rest_upload_no_data", "%v", err)
			return
		}
		defer up.file.Close()

		form := r.MultipartForm.Value
		up.title = formValue(form, "title")
		up.caption = formValue(form, "caption")
		up.description = formValue(form, "description")
		up.altText = formValue(form, "alt_text")
		up.globalID = formValue(form, "chp_global_id")
		if p := formValue(form, "post"); p != "" {
			if up.parent, err = strconv.ParseInt(p, 10, 64); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid post %q", p)
				return
			}
		}

		code, body := createMedia(deps, up)
		writeJSON(w, code, body)
	}
}

// handleMediaPassthrough accepts the public-API upload shape (files under
// "media[]", attributes under "attrs[0][...]") and answers with whatever the
// native media creation answers.
func handleMediaPassthrough(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "rest_upload_no_data", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		up, err := formUpload(r.MultipartForm, "media[]", "media")
		if err != nil {
			httpError(w, http.StatusBadRequest, "rest_upload_no_data", "%v", err)
			return
		}
		defer up.file.Close()

		form := r.MultipartForm.Value
		up.title = formValue(form, "attrs[0][title]")
		up.caption = formValue(form, "attrs[0][caption]")
		up.description = formValue(form, "attrs[0][description]")
		up.altText = formValue(form, "attrs[0][alt]")

		code, body := createMedia(deps, up)
		writeJSON(w, code, body)
	}
}

// formUpload opens the first file under the first of fields that has one.
func formUpload(form *multipart.Form, fields ...string) (mediaUpload, error) {
	for _, field := range fields {
		headers := form.File[field]
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			return mediaUpload{}, fmt.Errorf("opening upload: %w", err)
		}
		return mediaUpload{
			file:        f,
			filename:    fh.Filename,
			contentType: fh.Header.Get("Content-Type"),
		}, nil
	}
	return mediaUpload{}, errors.New("no data supplied")
}

func formValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// createMedia stores the upload and creates its attachment. It returns the
// status code and body to answer with.
func createMedia(deps AppDeps, up mediaUpload) (int, any) {
	if deps.Media.Author <= 0 {
		return http.StatusInternalServerError, errorBody("api_error", "no upload account configured")
	}
	if deps.Media.Dir == "" {
		return http.StatusInternalServerError, errorBody("api_error", "no upload directory configured")
	}

	name := sanitizeFilename(up.filename)
	if name == "" {
		return http.StatusBadRequest, errorBody("rest_upload_no_data", "upload has no file name")
	}

	now := time.Now().UTC()
	rel, err := storeUpload(deps.Media.Dir, now, name, up.file)
	if err != nil {
		deps.Logger.Error("storing upload failed", "file", name, "error", err)
		return http.StatusInternalServerError, errorBody("api_error", "failed to store upload: %v", err)
	}

	mimeType := up.contentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if t := mime.TypeByExtension(path.Ext(name)); t != "" {
			mimeType = t
		}
	}
	title := up.title
	if title == "" {
		title = strings.TrimSuffix(name, path.Ext(name))
	}

	a, err := deps.Store.CreateAttachment(storage.Attachment{
		AuthorID:    deps.Media.Author,
		ParentID:    up.parent,
		Title:       title,
		Caption:     up.caption,
		Description: up.description,
		Alt:         up.altText,
		File:        rel,
		MimeType:    mimeType,
		GlobalID:    up.globalID,
		Date:        now,
	})
	if err != nil {
		return http.StatusInternalServerError, errorBody("api_error", "failed to create attachment: %v", err)
	}
	deps.Logger.Info("media created", "image_id", a.ID, "file", a.File)
	return http.StatusCreated, a
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename keeps the base name with runs of unsafe characters
// replaced by a dash.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, ".-")
	return name
}

// storeUpload writes r to root/YYYY/MM/name, adding -1, -2, ... before the
// extension while the name is taken. It returns the path relative to root
// with forward slashes.
func storeUpload(root string, now time.Time, name string, r io.Reader) (string, error) {
	sub := path.Join(now.Format("2006"), now.Format("01"))
	dir := filepath.Join(root, filepath.FromSlash(sub))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", candidate, err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("writing %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("closing %s: %w", candidate, err)
		}
		return path.Join(sub, candidate), nil
	}
}
