// Package images downloads and downsizes post images into data URLs small
// enough to attach to a completion request.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/post"
)

const (
	downloadTimeout = 20 * time.Second
	maxConcurrent   = 4
	jpegQuality     = 82
)

// Failure records one image that could not be attached.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"` // download_failed | decode_failed
}

// Result is the outcome of preparing a post's images for attachment.
// DataURLs preserves the order of the images that succeeded.
type Result struct {
	DataURLs  []string
	Requested int
	Attached  int
	Failures  []Failure
}

// Pipeline fetches, bounds, and re-encodes images.
type Pipeline struct {
	httpc  *http.Client
	logger *log.Logger
}

func New(logger *log.Logger) *Pipeline {
	return &Pipeline{
		httpc:  &http.Client{Timeout: downloadTimeout},
		logger: logger,
	}
}

// Prepare processes up to the configured number of images concurrently.
// Individual failures are reported, not fatal; cancellation stops all
// outstanding downloads.
func (p *Pipeline) Prepare(ctx context.Context, cfg *config.Config, imgs []post.Image) Result {
	if len(imgs) > cfg.ImageLimit {
		imgs = imgs[:cfg.ImageLimit]
	}

	type slot struct {
		dataURL string
		failure *Failure
	}
	slots := make([]slot, len(imgs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrent)
	for i, img := range imgs {
		wg.Add(1)
		go func(i int, img post.Image) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				slots[i] = slot{failure: &Failure{ID: img.ID, Reason: "download_failed"}}
				return
			}

			dataURL, reason := p.prepareOne(ctx, cfg, img)
			if reason != "" {
				p.logger.Warn("image dropped", "id", img.ID, "reason", reason)
				slots[i] = slot{failure: &Failure{ID: img.ID, Reason: reason}}
				return
			}
			slots[i] = slot{dataURL: dataURL}
		}(i, img)
	}
	wg.Wait()

	result := Result{Requested: len(imgs)}
	for _, s := range slots {
		if s.failure != nil {
			result.Failures = append(result.Failures, *s.failure)
			continue
		}
		result.DataURLs = append(result.DataURLs, s.dataURL)
	}
	result.Attached = len(result.DataURLs)
	return result
}

// prepareOne returns the processed data URL or a failure reason.
func (p *Pipeline) prepareOne(ctx context.Context, cfg *config.Config, img post.Image) (string, string) {
	raw, err := p.loadBytes(ctx, cfg, img)
	if err != nil {
		return "", "download_failed"
	}

	encoded, err := shrink(raw, cfg.ImageMaxEdge)
	if err != nil {
		return "", "decode_failed"
	}
	return toDataURL(encoded), ""
}

// loadBytes fetches the image payload from its source, enforcing the byte
// ceiling for both remote URLs and inline data.
func (p *Pipeline) loadBytes(ctx context.Context, cfg *config.Config, img post.Image) ([]byte, error) {
	switch img.Source.Kind {
	case post.SourceDataURL:
		raw, err := decodeDataURL(img.Source.DataURL)
		if err != nil {
			return nil, err
		}
		if int64(len(raw)) > cfg.ImageMaxBytes {
			return nil, fmt.Errorf("inline image exceeds %d bytes", cfg.ImageMaxBytes)
		}
		return raw, nil
	default:
		return p.download(ctx, cfg, img.Source.URL)
	}
}

func (p *Pipeline) download(ctx context.Context, cfg *config.Config, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned %d", resp.StatusCode)
	}

	// Read one byte past the ceiling so oversized payloads are detected
	// without buffering them whole.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, cfg.ImageMaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > cfg.ImageMaxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", cfg.ImageMaxBytes)
	}
	return raw, nil
}

// shrink decodes raw, scales it down to maxEdge on its longer side when
// needed, and re-encodes as JPEG.
func shrink(raw []byte, maxEdge int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxEdge || h > maxEdge {
		scale := float64(maxEdge) / float64(w)
		if h > w {
			scale = float64(maxEdge) / float64(h)
		}
		dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toDataURL(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}

// decodeDataURL extracts the payload of a base64 data URL.
func decodeDataURL(dataURL string) ([]byte, error) {
	idx := strings.Index(dataURL, ",")
	if idx < 0 || !strings.Contains(dataURL[:idx], "base64") {
		return nil, fmt.Errorf("unsupported data URL encoding")
	}
	return base64.StdEncoding.DecodeString(dataURL[idx+1:])
}
