package toolclient

import (
	"context"
	"net/http"
	"time"
)

// ResolveFunc resolves a share link to its final URL by following redirects.
type ResolveFunc func(ctx context.Context, rawURL string) (string, error)

const resolveTimeout = 10 * time.Second

// ResolveRedirects follows redirects and returns the final URL. Share links
// are frequently shortened (xhslink.com); the expanded form carries the
// parameters the fetch tool needs.
func ResolveRedirects(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	return resp.Request.URL.String(), nil
}
