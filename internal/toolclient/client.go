package toolclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
	"github.com/Yinuo-Yao/xhs-recipe/internal/post"
)

// candidateArgKeys are tried in order when the fetch tool's URL parameter
// name is unknown.
var candidateArgKeys = []string{"url", "shareUrl", "link", "sourceUrl"}

const tokenHint = "paste the full share link including its xsec_token parameter; shortened links sometimes drop it"

// Client fetches post content through the tool server. It lazily establishes
// a session, auto-detects the fetch tool, and caches normalized posts.
type Client struct {
	dial    Dialer
	resolve ResolveFunc
	logger  *log.Logger

	mu           sync.Mutex
	conn         *connection
	connecting   *connectAttempt
	connectSeq   uint64
	detectedTool string
	tools        []ToolInfo
	cache        *postCache
}

type connection struct {
	session Session
	key     string
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// New returns a client using the production MCP dialer and redirect resolver.
func New(logger *log.Logger) *Client {
	return NewWithHooks(logger, Dial, ResolveRedirects)
}

// NewWithHooks returns a client with injectable dial and resolve functions.
func NewWithHooks(logger *log.Logger, dial Dialer, resolve ResolveFunc) *Client {
	return &Client{
		dial:    dial,
		resolve: resolve,
		logger:  logger,
		cache:   newPostCache(),
	}
}

// GetPost fetches and normalizes the post behind sourceURL. Results are
// cached by the requested URL for a short window.
func (c *Client) GetPost(ctx context.Context, cfg *config.Config, sourceURL string) (*post.Post, error) {
	if p, ok := c.cache.get(sourceURL); ok {
		c.logger.Debug("post cache hit", "url", sourceURL)
		return p, nil
	}

	resolved := sourceURL
	if final, err := c.resolve(ctx, sourceURL); err != nil {
		c.logger.Warn("redirect resolution failed, using original URL", "url", sourceURL, "error", err)
	} else if final != "" {
		resolved = final
	}

	raw, err := c.fetch(ctx, cfg, sourceURL, resolved)
	if err != nil {
		return nil, err
	}

	p, err := post.Normalize(resolved, raw)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if p.Caption == "" && len(p.Images) == 0 {
		c.logger.Warn("tool returned a post with no caption and no images", "url", resolved)
	}

	c.cache.put(sourceURL, p)
	return p, nil
}

// fetch runs the tool call with one reconnect retry on transport errors and
// the not-found and alternate-tool fallbacks on tool-reported errors.
func (c *Client) fetch(ctx context.Context, cfg *config.Config, original, resolved string) ([]byte, error) {
	sess, err := c.ensureSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	toolName, err := c.resolveToolName(ctx, cfg, sess)
	if err != nil {
		return nil, err
	}

	result, callErr := c.callFetchTool(ctx, cfg, sess, toolName, resolved)
	if callErr != nil {
		if errors.Cancelled(callErr) || ctx.Err() != nil {
			return nil, errors.NewCancelled("fetch post")
		}
		c.logger.Warn("tool call failed, reconnecting", "tool", toolName, "error", callErr)
		c.Disconnect()
		sess, err = c.ensureSession(ctx, cfg)
		if err != nil {
			return nil, err
		}
		toolName, err = c.resolveToolName(ctx, cfg, sess)
		if err != nil {
			return nil, err
		}
		result, callErr = c.callFetchTool(ctx, cfg, sess, toolName, resolved)
		if callErr != nil {
			if errors.Cancelled(callErr) || ctx.Err() != nil {
				return nil, errors.NewCancelled("fetch post")
			}
			return nil, errors.NewConnectivity(fmt.Sprintf("tool %q failed after reconnect", toolName), callErr)
		}
	}

	if result.IsError && notFoundLike(result.Text) && resolved != original {
		c.logger.Debug("resolved URL rejected, retrying with original", "url", original)
		if retry, err := c.callFetchTool(ctx, cfg, sess, toolName, original); err == nil && !retry.IsError {
			result = retry
		}
	}

	if result.IsError && cfg.ToolName == "" {
		if alt := alternateToolName(c.toolsSnapshot(), toolName); alt != "" {
			c.logger.Debug("trying alternate fetch tool", "tool", alt)
			if retry, err := c.callURLTool(ctx, cfg, sess, alt, resolved); err == nil && !retry.IsError {
				result = retry
			}
		}
	}

	if result.IsError {
		return nil, errors.NewTool(toolName, strings.TrimSpace(result.Text), tokenHint)
	}
	return []byte(result.Text), nil
}

// callFetchTool dispatches to the feed-detail argument shape when the tool
// wants ids, otherwise tries the candidate URL argument keys.
func (c *Client) callFetchTool(ctx context.Context, cfg *config.Config, sess Session, toolName, u string) (CallResult, error) {
	if isFeedDetailTool(toolName, c.toolsSnapshot()) {
		args, err := extractFeedArgs(u)
		if err != nil {
			return CallResult{}, err
		}
		cctx, cancel := context.WithTimeout(ctx, c.toolTimeout(cfg))
		defer cancel()
		return sess.CallTool(cctx, toolName, args)
	}
	return c.callURLTool(ctx, cfg, sess, toolName, u)
}

// callURLTool tries each candidate argument key under a per-attempt slice of
// the overall tool timeout. A tool-reported error moves to the next key; a
// transport error aborts the whole call.
func (c *Client) callURLTool(ctx context.Context, cfg *config.Config, sess Session, toolName, u string) (CallResult, error) {
	perAttempt := c.toolTimeout(cfg) / time.Duration(len(candidateArgKeys))
	var last CallResult
	for i, key := range candidateArgKeys {
		cctx, cancel := context.WithTimeout(ctx, perAttempt)
		result, err := sess.CallTool(cctx, toolName, map[string]any{key: u})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return CallResult{}, errors.NewCancelled("fetch post")
			}
			return CallResult{}, err
		}
		if !result.IsError {
			return result, nil
		}
		last = result
		if i < len(candidateArgKeys)-1 {
			c.logger.Debug("argument key rejected, trying next", "tool", toolName, "key", key)
		}
	}
	return last, nil
}

// resolveToolName returns the configured name, the previously detected name,
// or detects one from the tool listing.
func (c *Client) resolveToolName(ctx context.Context, cfg *config.Config, sess Session) (string, error) {
	if cfg.ToolName != "" {
		return cfg.ToolName, nil
	}

	c.mu.Lock()
	detected := c.detectedTool
	c.mu.Unlock()
	if detected != "" {
		return detected, nil
	}

	tools, err := sess.ListTools(ctx)
	if err != nil {
		return "", errors.NewConnectivity("could not list tool server tools", err)
	}

	name := detectToolName(tools)
	if name == "" {
		return "", errors.NewConfig(
			fmt.Sprintf("no content-fetch tool found; server offers: %s", strings.Join(toolNames(tools), ", ")),
			"set tool_name in config.json to the tool that fetches posts")
	}
	c.logger.Debug("detected fetch tool", "tool", name)

	c.mu.Lock()
	c.detectedTool = name
	c.tools = tools
	c.mu.Unlock()
	return name, nil
}

// ensureSession returns the live session, establishing one if needed.
// Concurrent callers share a single connection attempt. A config change in
// transport, path, or URL tears down the old session first.
func (c *Client) ensureSession(ctx context.Context, cfg *config.Config) (Session, error) {
	key := transportKey(cfg)
	for attempt := 0; attempt < 3; attempt++ {
		c.mu.Lock()
		if c.conn != nil {
			if c.conn.key == key {
				sess := c.conn.session
				c.mu.Unlock()
				return sess, nil
			}
			old := c.conn
			c.conn = nil
			c.detectedTool = ""
			c.tools = nil
			c.mu.Unlock()
			c.logger.Debug("transport config changed, closing stale session")
			old.session.Close()
			continue
		}
		if c.connecting != nil {
			att := c.connecting
			c.mu.Unlock()
			select {
			case <-att.done:
			case <-ctx.Done():
				return nil, errors.NewCancelled("connect to tool server")
			}
			if att.err != nil {
				return nil, att.err
			}
			continue
		}
		att := &connectAttempt{done: make(chan struct{})}
		c.connecting = att
		seq := c.connectSeq
		c.mu.Unlock()

		sess, err := c.dial(ctx, cfg)

		c.mu.Lock()
		c.connecting = nil
		if err == nil && c.connectSeq != seq {
			c.mu.Unlock()
			sess.Close()
			err = errors.NewConnectivity("connection superseded by a session reset", nil)
			att.err = err
			close(att.done)
			return nil, err
		}
		if err == nil {
			c.conn = &connection{session: sess, key: key}
		}
		c.mu.Unlock()

		att.err = err
		close(att.done)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return nil, errors.NewConnectivity("could not establish a tool server session", nil)
}

// Disconnect closes the current session and forgets the detected tool.
// In-flight connection attempts that finish afterwards are discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.connectSeq++
	conn := c.conn
	c.conn = nil
	c.detectedTool = ""
	c.tools = nil
	c.mu.Unlock()

	if conn != nil {
		conn.session.Close()
	}
}

// ResetSession disconnects and drops all cached posts.
func (c *Client) ResetSession() {
	c.Disconnect()
	c.cache.clear()
}

func (c *Client) toolsSnapshot() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

func (c *Client) toolTimeout(cfg *config.Config) time.Duration {
	if cfg.ToolTimeoutSeconds > 0 {
		return time.Duration(cfg.ToolTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

func transportKey(cfg *config.Config) string {
	return cfg.Transport + "|" + cfg.ServerPath + "|" + cfg.ServerURL
}

var notFoundMarkers = []string{"not found", "404", "no such", "does not exist", "不存在"}

func notFoundLike(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
