package post

import "encoding/json"

// SourceKind tags how an image is represented.
type SourceKind string

const (
	SourceURL     SourceKind = "url"
	SourceDataURL SourceKind = "dataUrl"
)

// ImageSource holds exactly one representation of the image bytes.
type ImageSource struct {
	Kind    SourceKind `json:"kind"`
	URL     string     `json:"url,omitempty"`
	DataURL string     `json:"dataUrl,omitempty"`
}

// Image is a single post image. IDs are assigned in fetch order and are
// unique within one Post.
type Image struct {
	ID         string      `json:"id"`
	Source     ImageSource `json:"source"`
	PreviewURL string      `json:"previewUrl"`
}

// Post is the canonical fetched content of a shared URL.
// Immutable once created.
type Post struct {
	SourceURL string          `json:"sourceUrl"`
	Caption   string          `json:"caption"`
	Images    []Image         `json:"images"`
	Raw       json.RawMessage `json:"-"` // original tool response, kept for diagnostics
}
