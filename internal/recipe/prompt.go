// Package recipe builds the prompts sent to the completion endpoint and the
// final Markdown document returned to the user.
package recipe

import (
	"fmt"
	"strings"
	"time"
)

// Output languages.
const (
	LanguageChinese = "zh"
	LanguageEnglish = "en"
	LanguageBoth    = "both"
)

// SystemPrompt instructs the model to act as a recipe writer producing a
// fixed fenced-heading Markdown structure in the requested language(s).
func SystemPrompt(language string) string {
	var b strings.Builder
	b.WriteString("You are a cooking assistant. Convert a social-media food post into a structured recipe.\n")
	b.WriteString("Output Markdown only, using exactly these second-level headings in this order:\n")
	b.WriteString("## Title\n## Ingredients\n## Steps\n## Tips\n")
	b.WriteString("Use a numbered list under Steps and a bulleted list under Ingredients.\n")

	switch language {
	case LanguageChinese:
		b.WriteString("Write everything in Simplified Chinese.\n")
	case LanguageEnglish:
		b.WriteString("Write everything in English.\n")
	default:
		b.WriteString("Write every section bilingually: Simplified Chinese first, then an English translation underneath.\n")
	}

	b.WriteString("If the post is not about food, say so briefly instead of inventing a recipe.")
	return b.String()
}

// UserPrompt packages the post caption and image context for one generation
// call.
func UserPrompt(caption, sourceURL string, attachedImages int) string {
	var b strings.Builder
	b.WriteString("Post caption:\n")
	if strings.TrimSpace(caption) == "" {
		b.WriteString("(no caption; rely on the attached images)\n")
	} else {
		b.WriteString(caption)
		b.WriteString("\n")
	}
	if attachedImages > 0 {
		fmt.Fprintf(&b, "\n%d photo(s) from the post are attached. Use them to fill in details the caption omits, such as ingredient amounts and doneness cues.\n", attachedImages)
	}
	if sourceURL != "" {
		fmt.Fprintf(&b, "\nSource: %s\n", sourceURL)
	}
	return b.String()
}

// WrapDocument adds the source and generation footer beneath the model's
// Markdown body.
func WrapDocument(body, sourceURL, model string, when time.Time) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\n---\n\n")
	if sourceURL != "" {
		fmt.Fprintf(&b, "Source: %s\n\n", sourceURL)
	}
	fmt.Fprintf(&b, "Generated by %s on %s\n", model, when.UTC().Format("2006-01-02 15:04"))
	return b.String()
}
