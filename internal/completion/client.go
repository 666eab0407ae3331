package completion

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

// ErrBlankOutput marks a call where every request variant succeeded at the
// HTTP level but produced no usable text. The caller may retry with a
// different model.
var ErrBlankOutput = stderrors.New("completion returned blank output")

// IsBlankOutput reports whether err is the blank-output classification.
func IsBlankOutput(err error) bool {
	return stderrors.Is(err, ErrBlankOutput)
}

// Request is one recipe-generation call against the completion endpoint.
type Request struct {
	Model         string
	SystemPrompt  string
	UserPrompt    string
	ImageDataURLs []string
}

// Client talks to an OpenAI-compatible completion API. It sends raw JSON
// payloads so the variant cascade can control exact field names and image
// encodings.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	logger  *log.Logger
}

// New returns a client for the endpoint configured in cfg.
func New(cfg *config.Config, logger *log.Logger) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: 2 * time.Minute},
		logger:  logger,
	}
}

// GenerateMarkdown produces recipe Markdown for req, retrying transient
// failures with bounded backoff. Cancellation propagates immediately.
func (c *Client) GenerateMarkdown(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", errors.NewConfig("no API key configured for the completion endpoint",
			"set OPENAI_API_KEY or api_key in config.json")
	}
	return withRetry(ctx, c.logger, func() (string, error) {
		return c.generateOnce(ctx, req)
	})
}

func (c *Client) generateOnce(ctx context.Context, req Request) (string, error) {
	if UsesResponsesAPI(req.Model) {
		text, err := c.responsesCascade(ctx, req)
		if err == nil {
			return text, nil
		}
		if !IsBlankOutput(err) {
			return "", err
		}
		c.logger.Warn("structured style produced no output, falling back to chat style", "model", req.Model)
	}
	return c.chatCascade(ctx, req)
}

// responsesCascade tries the structured-response variants in order. A
// refusal is terminal. Exhausting all variants without text returns
// ErrBlankOutput.
func (c *Client) responsesCascade(ctx context.Context, req Request) (string, error) {
	for i, v := range responsesVariants {
		payload := buildResponsesPayload(req, v)
		status, body, err := c.post(ctx, "/responses", payload)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			if unsupportedParameter(status, body) {
				c.logger.Debug("variant rejected, trying next", "style", "responses", "variant", i, "status", status)
				continue
			}
			return "", classifyStatus(status, body)
		}

		text, refusal, err := parseResponsesBody(body)
		if err != nil {
			return "", errors.NewInternal(err)
		}
		if refusal != "" {
			return "", errors.NewContentPolicy(refusal)
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		c.logger.Debug("variant returned empty output", "style", "responses", "variant", i)
	}
	return "", ErrBlankOutput
}

// chatCascade tries the conversational-turn variants in order. A content
// filter is terminal. Blank output after all variants is terminal too.
func (c *Client) chatCascade(ctx context.Context, req Request) (string, error) {
	for i, v := range chatVariants {
		payload := buildChatPayload(req, v)
		status, body, err := c.post(ctx, "/chat/completions", payload)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			if unsupportedParameter(status, body) {
				c.logger.Debug("variant rejected, trying next", "style", "chat", "variant", i, "status", status)
				continue
			}
			return "", classifyStatus(status, body)
		}

		text, filtered, err := parseChatBody(body)
		if err != nil {
			return "", errors.NewInternal(err)
		}
		if filtered {
			return "", errors.NewContentPolicy("completion was blocked by a content filter")
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		c.logger.Debug("variant returned empty output", "style", "chat", "variant", i)
	}
	return "", fmt.Errorf("all request variants exhausted: %w", ErrBlankOutput)
}

// post sends payload and returns the status and raw body. Transport errors
// and cancellation are returned as typed errors; HTTP error statuses are
// returned to the caller for classification.
func (c *Client) post(ctx context.Context, path string, payload map[string]any) (int, string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, "", errors.NewInternal(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, "", errors.NewInternal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", errors.NewCancelled("completion call")
		}
		return 0, "", errors.NewConnectivity("completion endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", errors.NewCancelled("completion call")
		}
		return 0, "", errors.NewConnectivity("completion response truncated", err)
	}
	return resp.StatusCode, string(body), nil
}

// classifyStatus maps non-variant HTTP failures into the error taxonomy.
func classifyStatus(status int, body string) error {
	trimmed := strings.TrimSpace(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewConfig(
			fmt.Sprintf("completion endpoint rejected the credential (status %d)", status),
			"check OPENAI_API_KEY and base_url in config.json")
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.NewTransient(fmt.Sprintf("completion endpoint returned %d: %s", status, trimmed), status, nil)
	default:
		return errors.NewInternal(fmt.Errorf("completion endpoint returned %d: %s", status, trimmed))
	}
}

func buildResponsesPayload(req Request, v responsesVariant) map[string]any {
	content := []map[string]any{
		{"type": "input_text", "text": req.UserPrompt},
	}
	for _, dataURL := range req.ImageDataURLs {
		item := map[string]any{"type": "input_image"}
		if v.wrappedImages {
			item["image_url"] = map[string]any{"url": dataURL}
		} else {
			item["image_url"] = dataURL
		}
		content = append(content, item)
	}

	payload := map[string]any{
		"model": req.Model,
		"input": []map[string]any{
			{"role": "user", "content": content},
		},
	}
	if req.SystemPrompt != "" {
		payload["instructions"] = req.SystemPrompt
	}
	if v.reasoningEffort != "" {
		payload["reasoning"] = map[string]any{"effort": v.reasoningEffort}
	}
	if v.maxOutputTokens > 0 {
		payload["max_output_tokens"] = v.maxOutputTokens
	}
	return payload
}

func buildChatPayload(req Request, v chatVariant) map[string]any {
	content := []map[string]any{
		{"type": "text", "text": req.UserPrompt},
	}
	for _, dataURL := range req.ImageDataURLs {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL},
		})
	}

	messages := []map[string]any{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": content})

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if v.tokenField != "" {
		payload[v.tokenField] = 4096
	}
	if v.temperature != nil {
		payload["temperature"] = *v.temperature
	}
	return payload
}

// responsesBody is the subset of the structured-response schema we read.
type responsesBody struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			Refusal string `json:"refusal"`
		} `json:"content"`
	} `json:"output"`
}

func parseResponsesBody(body string) (text, refusal string, err error) {
	var parsed responsesBody
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", "", fmt.Errorf("decode responses body: %w", err)
	}

	var texts []string
	for _, out := range parsed.Output {
		if out.Type != "message" {
			continue
		}
		for _, c := range out.Content {
			switch c.Type {
			case "output_text":
				texts = append(texts, c.Text)
			case "refusal":
				if refusal == "" {
					refusal = c.Refusal
				}
			}
		}
	}
	return strings.Join(texts, ""), refusal, nil
}

// chatBody is the subset of the conversational schema we read.
type chatBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func parseChatBody(body string) (text string, filtered bool, err error) {
	var parsed chatBody
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", false, fmt.Errorf("decode chat body: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, nil
	}
	first := parsed.Choices[0]
	if first.FinishReason == "content_filter" {
		return "", true, nil
	}
	return first.Message.Content, false, nil
}
