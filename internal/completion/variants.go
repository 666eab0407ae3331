package completion

import (
	"regexp"
	"strings"
)

// responsesVariant is one request shape tried against the structured
// responses endpoint. Zero values omit the corresponding field.
type responsesVariant struct {
	reasoningEffort string
	maxOutputTokens int
	// wrappedImages sends image attachments as {"url": ...} objects instead
	// of plain string values. Both encodings exist in the wild.
	wrappedImages bool
}

// responsesVariants is the cascade order for the structured style: full
// parameters first, stripped down to a bare request, each crossed with both
// image encodings.
var responsesVariants = []responsesVariant{
	{reasoningEffort: "low", maxOutputTokens: 4096, wrappedImages: false},
	{reasoningEffort: "low", maxOutputTokens: 4096, wrappedImages: true},
	{maxOutputTokens: 4096, wrappedImages: false},
	{maxOutputTokens: 4096, wrappedImages: true},
	{wrappedImages: false},
	{wrappedImages: true},
}

// chatVariant is one request shape tried against the conversational
// endpoint.
type chatVariant struct {
	tokenField  string // "max_tokens", "max_completion_tokens", or "" to omit
	temperature *float64
}

func floatPtr(f float64) *float64 { return &f }

var chatVariants = []chatVariant{
	{tokenField: "max_tokens", temperature: floatPtr(0.4)},
	{tokenField: "max_completion_tokens", temperature: floatPtr(0.4)},
	{tokenField: "max_completion_tokens"},
	{},
}

// responsesFamilyPattern matches model identifiers served by the structured
// responses endpoint.
var responsesFamilyPattern = regexp.MustCompile(`^(gpt-5|o[0-9])`)

// UsesResponsesAPI reports whether model belongs to the newer family that
// prefers the structured-response request style.
func UsesResponsesAPI(model string) bool {
	return responsesFamilyPattern.MatchString(strings.ToLower(model))
}

// unsupportedParamMarkers identify 400 responses caused by a parameter the
// serving model does not recognize. These advance the variant cascade
// instead of failing the call.
var unsupportedParamMarkers = []string{
	"unsupported parameter",
	"unsupported_parameter",
	"unknown parameter",
	"unrecognized request argument",
	"is not supported with this model",
	"unknown field",
}

func unsupportedParameter(status int, body string) bool {
	if status != 400 {
		return false
	}
	lower := strings.ToLower(body)
	for _, marker := range unsupportedParamMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
