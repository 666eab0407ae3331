package post

import (
	"encoding/json"
	"fmt"
	"strings"
)

// captionKeys are checked in order on generic response shapes.
var captionKeys = []string{"caption", "text", "desc", "description", "content"}

// imageListKeys are the known field names carrying an image array.
var imageListKeys = []string{"images", "imageList", "image_list", "pics", "medias"}

// imageURLKeys are the known field names carrying a usable image URL.
var imageURLKeys = []string{"url", "urlDefault", "url_default", "imageUrl", "image_url", "src", "link"}

// imageDataKeys are the known field names carrying inline base64 image data.
var imageDataKeys = []string{"dataUrl", "data_url", "base64", "data"}

// Normalize converts a raw tool response into a canonical Post.
//
// The response may be a JSON document in one of several known shapes (a
// structured note with title+description, or generic caption/image fields)
// or plain text, in which case the whole text becomes the caption.
func Normalize(sourceURL string, raw []byte) (*Post, error) {
	p := &Post{
		SourceURL: sourceURL,
		Raw:       json.RawMessage(raw),
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Not a JSON object: the tool returned prose.
		p.Caption = strings.TrimSpace(string(raw))
		return p, nil
	}

	node := unwrap(doc)
	p.Caption = extractCaption(node)
	p.Images = extractImages(node)
	return p, nil
}

// unwrap descends through known envelope fields ("data", "note", "feed",
// "result") to the object that actually carries content.
func unwrap(doc map[string]any) map[string]any {
	node := doc
	for i := 0; i < 4; i++ {
		next, ok := childObject(node, "data", "note", "feed", "result")
		if !ok {
			break
		}
		node = next
	}
	return node
}

func childObject(node map[string]any, keys ...string) (map[string]any, bool) {
	for _, key := range keys {
		if child, ok := node[key].(map[string]any); ok {
			return child, true
		}
	}
	return nil, false
}

// extractCaption pulls caption text from the known shape variants.
// A structured note (title + desc) joins both; otherwise the first
// non-empty generic field wins.
func extractCaption(node map[string]any) string {
	title, _ := node["title"].(string)
	desc, _ := node["desc"].(string)
	if desc == "" {
		desc, _ = node["description"].(string)
	}
	if strings.TrimSpace(title) != "" && strings.TrimSpace(desc) != "" {
		return strings.TrimSpace(title) + "\n\n" + strings.TrimSpace(desc)
	}

	for _, key := range captionKeys {
		if v, ok := node[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return ""
}

// extractImages converts the first recognizable image array into Image
// records with sequential per-post IDs.
func extractImages(node map[string]any) []Image {
	var rawList []any
	for _, key := range imageListKeys {
		if list, ok := node[key].([]any); ok {
			rawList = list
			break
		}
	}
	if rawList == nil {
		return nil
	}

	images := make([]Image, 0, len(rawList))
	for _, item := range rawList {
		img, ok := convertImage(item)
		if !ok {
			continue
		}
		img.ID = fmt.Sprintf("img-%d", len(images)+1)
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil
	}
	return images
}

// convertImage recognizes either a bare URL string or an object carrying a
// URL or inline base64 data.
func convertImage(item any) (Image, bool) {
	switch v := item.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return Image{}, false
		}
		return Image{
			Source:     ImageSource{Kind: SourceURL, URL: v},
			PreviewURL: v,
		}, true
	case map[string]any:
		for _, key := range imageURLKeys {
			if u, ok := v[key].(string); ok && strings.TrimSpace(u) != "" {
				return Image{
					Source:     ImageSource{Kind: SourceURL, URL: u},
					PreviewURL: u,
				}, true
			}
		}
		for _, key := range imageDataKeys {
			data, ok := v[key].(string)
			if !ok || strings.TrimSpace(data) == "" {
				continue
			}
			dataURL := data
			if !strings.HasPrefix(data, "data:") {
				mime, _ := v["mimeType"].(string)
				if mime == "" {
					mime, _ = v["mime_type"].(string)
				}
				if mime == "" {
					mime = "image/jpeg"
				}
				dataURL = "data:" + mime + ";base64," + data
			}
			return Image{
				Source:     ImageSource{Kind: SourceDataURL, DataURL: dataURL},
				PreviewURL: dataURL,
			}, true
		}
	}
	return Image{}, false
}
