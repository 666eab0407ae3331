package toolclient

import (
	"strings"
)

// preferredToolNames is the default detection order for the content-fetch
// tool. The external tool ecosystem varies, so this is a pluggable default,
// not an exhaustive list.
var preferredToolNames = []string{
	"get_feed_detail",
	"get_note_content",
	"get_note",
	"get_post",
	"fetch_post",
	"get_content",
}

// heuristicSubjects and heuristicVerbs drive the substring fallback when no
// preferred name is present.
var (
	heuristicSubjects = []string{"feed", "note", "post", "content"}
	heuristicVerbs    = []string{"get", "fetch", "read"}
)

// detectToolName picks the content-fetch tool from the available tools:
// exact match against the preference order first, then a verb+subject
// substring heuristic. Returns "" when nothing plausible exists.
func detectToolName(tools []ToolInfo) string {
	byName := make(map[string]bool, len(tools))
	for _, t := range tools {
		byName[t.Name] = true
	}
	for _, name := range preferredToolNames {
		if byName[name] {
			return name
		}
	}

	for _, t := range tools {
		lower := strings.ToLower(t.Name)
		if !containsAny(lower, heuristicVerbs) {
			continue
		}
		if containsAny(lower, heuristicSubjects) {
			return t.Name
		}
	}
	return ""
}

// alternateToolName returns a generic URL-accepting tool distinct from
// current, used as the last fallback after a tool-reported failure.
func alternateToolName(tools []ToolInfo, current string) string {
	for _, t := range tools {
		if t.Name == current {
			continue
		}
		if acceptsURLArgument(t) {
			return t.Name
		}
	}
	return ""
}

// isFeedDetailTool reports whether the tool uses the specialized feed-detail
// argument schema (feed identifier + access token) instead of a plain URL.
func isFeedDetailTool(tool string, tools []ToolInfo) bool {
	lower := strings.ToLower(tool)
	if strings.Contains(lower, "feed") && strings.Contains(lower, "detail") {
		return true
	}
	for _, t := range tools {
		if t.Name != tool {
			continue
		}
		for _, prop := range t.InputProperties {
			switch prop {
			case "feedId", "feed_id":
				return true
			}
		}
	}
	return false
}

func acceptsURLArgument(t ToolInfo) bool {
	for _, prop := range t.InputProperties {
		switch prop {
		case "url", "shareUrl", "share_url", "link", "sourceUrl", "source_url":
			return true
		}
	}
	return strings.Contains(strings.ToLower(t.Name), "url")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func toolNames(tools []ToolInfo) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
