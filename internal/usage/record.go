package usage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Meta keys the reporter owns on a post.
const (
	MetaRecord    = "chp_images_ids"
	MetaErrorFlag = "chp_errors"
)

// StatusCreated is the hub's answer to an accepted usage document. An image
// with this status is never sent again.
const StatusCreated = 201

// Error messages stored on an image and sent in alerts.
const (
	ErrNoAssetID = "No CHP asset_id"
	ErrTransport = "Wp error"
	ErrNoGID     = "No CHP GID set"
	ErrTemplate  = "Template error"
)

func errStatus(code int) string {
	return fmt.Sprintf("Chp response status: %d", code)
}

// XURNTrace is the last lookup status seen for one XURN; 0 when the lookup
// got no HTTP answer.
type XURNTrace struct {
	Status int `json:"status"`
}

// ImageUsage is the per-image state of a post's usage record.
type ImageUsage struct {
	Status   int                  `json:"status,omitempty"`
	AssetID  string               `json:"asset_id,omitempty"`
	Error    string               `json:"error,omitempty"`
	ErrorGID string               `json:"error_gid,omitempty"`
	WPError  string               `json:"wp_error,omitempty"`
	XURNs    map[string]XURNTrace `json:"xurn_id,omitempty"`
}

// Done reports whether usage of the image has been accepted.
func (u *ImageUsage) Done() bool {
	return u.Status == StatusCreated
}

func (u *ImageUsage) trace(xurn string, status int) {
	if u.XURNs == nil {
		u.XURNs = make(map[string]XURNTrace)
	}
	u.XURNs[xurn] = XURNTrace{Status: status}
}

// Record is a post's usage record. It is stored as one flat JSON object
// keyed by image ID, next to the "chp_retries" and "errors" counters.
// Images are never removed from it, and keys it does not model are written
// back untouched.
type Record struct {
	Images  map[int64]*ImageUsage
	Retries *int
	Errors  *int

	extra map[string]json.RawMessage
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Images: make(map[int64]*ImageUsage)}
}

// Image returns the entry for id, creating it when absent.
func (r *Record) Image(id int64) *ImageUsage {
	if r.Images == nil {
		r.Images = make(map[int64]*ImageUsage)
	}
	u, ok := r.Images[id]
	if !ok {
		u = &ImageUsage{}
		r.Images[id] = u
	}
	return u
}

// ImageIDs returns the recorded image IDs in ascending order.
func (r *Record) ImageIDs() []int64 {
	ids := make([]int64, 0, len(r.Images))
	for id := range r.Images {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Countdown returns the remaining attempts, or max when none were recorded.
func (r *Record) Countdown(max int) int {
	if r.Retries == nil {
		return max
	}
	return *r.Retries
}

func (r *Record) SetRetries(n int) { r.Retries = &n }
func (r *Record) SetErrors(n int)  { r.Errors = &n }

func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Images)+len(r.extra)+2)
	for k, v := range r.extra {
		m[k] = v
	}
	for id, u := range r.Images {
		m[strconv.FormatInt(id, 10)] = u
	}
	if r.Retries != nil {
		m["chp_retries"] = *r.Retries
	}
	if r.Errors != nil {
		m["errors"] = *r.Errors
	}
	return json.Marshal(m)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Images = make(map[int64]*ImageUsage, len(raw))
	r.Retries, r.Errors, r.extra = nil, nil, nil

	for k, v := range raw {
		switch k {
		case "chp_retries", "errors":
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			if k == "chp_retries" {
				r.SetRetries(n)
			} else {
				r.SetErrors(n)
			}
		default:
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				if r.extra == nil {
					r.extra = make(map[string]json.RawMessage)
				}
				r.extra[k] = v
				continue
			}
			var u ImageUsage
			if err := json.Unmarshal(v, &u); err != nil {
				return fmt.Errorf("decoding image %d: %w", id, err)
			}
			r.Images[id] = &u
		}
	}
	return nil
}
