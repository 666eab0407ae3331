package toolclient

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

// Known parameter-name aliases across share-link formats.
var (
	feedIDParams    = []string{"feedId", "feed_id", "noteId", "note_id", "id"}
	xsecTokenParams = []string{"xsec_token", "xsecToken", "token", "xsec"}
)

// feedIDPattern matches a plausible content identifier in a path segment.
var feedIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)

// extractFeedArgs pulls the content identifier and access token a feed-detail
// tool requires out of rawURL's query parameters, fragment query parameters,
// or path segments. Both values are required.
func extractFeedArgs(rawURL string) (map[string]any, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.NewTool("get_feed_detail",
			"share link could not be parsed",
			"paste the full share link from the app")
	}

	values := []url.Values{u.Query()}
	if frag := fragmentQuery(u.Fragment); frag != nil {
		values = append(values, frag)
	}

	feedID := firstParam(values, feedIDParams)
	token := firstParam(values, xsecTokenParams)

	if feedID == "" {
		feedID = feedIDFromPath(u.Path)
	}

	if feedID == "" {
		return nil, errors.NewTool("get_feed_detail",
			"could not extract a content identifier from the share link",
			"use the full post URL, e.g. https://www.xiaohongshu.com/discovery/item/<id>?xsec_token=...")
	}
	if token == "" {
		return nil, errors.NewTool("get_feed_detail",
			"share link is missing its access token",
			"use a non-shortened URL that still carries its xsec_token parameter")
	}

	return map[string]any{"feedId": feedID, "xsecToken": token}, nil
}

// fragmentQuery parses the query-string portion of a URL fragment, e.g.
// "#/page?xsec_token=T".
func fragmentQuery(fragment string) url.Values {
	idx := strings.Index(fragment, "?")
	if idx < 0 {
		return nil
	}
	values, err := url.ParseQuery(fragment[idx+1:])
	if err != nil {
		return nil
	}
	return values
}

func firstParam(sources []url.Values, aliases []string) string {
	for _, alias := range aliases {
		for _, values := range sources {
			if v := values.Get(alias); v != "" {
				return v
			}
		}
	}
	return ""
}

// feedIDFromPath scans path segments right to left for a plausible
// identifier.
func feedIDFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if feedIDPattern.MatchString(segments[i]) {
			return segments[i]
		}
	}
	// Segments following a known item marker are accepted even when they do
	// not look hex-like (short-link expansions vary).
	for i := len(segments) - 1; i > 0; i-- {
		prev := segments[i-1]
		if (prev == "item" || prev == "explore") && segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}
