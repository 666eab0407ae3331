package toolclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

type toolCall struct {
	name string
	args map[string]any
}

type fakeSession struct {
	tools   []ToolInfo
	handler func(call toolCall) (CallResult, error)

	mu     sync.Mutex
	calls  []toolCall
	closed int
}

func (s *fakeSession) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return s.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	s.mu.Lock()
	call := toolCall{name: name, args: args}
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return s.handler(call)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSession) lastCall() toolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

func staticDialer(sess Session) Dialer {
	return func(ctx context.Context, cfg *config.Config) (Session, error) {
		return sess, nil
	}
}

func staticResolver(final string) ResolveFunc {
	return func(ctx context.Context, rawURL string) (string, error) {
		return final, nil
	}
}

func identityResolver(ctx context.Context, rawURL string) (string, error) {
	return rawURL, nil
}

func urlTool(name string) ToolInfo {
	return ToolInfo{Name: name, InputProperties: []string{"url"}}
}

const goodPost = `{"title": "Dish", "desc": "Steps", "images": ["https://img.example/1.jpg"]}`

func TestGetPostCachesByRequestedURL(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: goodPost}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)
	cfg := config.DefaultConfig()

	p1, err := c.GetPost(context.Background(), cfg, "https://example.com/p/1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	p2, err := c.GetPost(context.Background(), cfg, "https://example.com/p/1")
	if err != nil {
		t.Fatalf("GetPost cached: %v", err)
	}
	if sess.callCount() != 1 {
		t.Fatalf("calls = %d, want 1 (second fetch should be served from cache)", sess.callCount())
	}
	if p1.Caption != p2.Caption || len(p2.Images) != 1 {
		t.Fatalf("cached post differs: %+v vs %+v", p1, p2)
	}
}

func TestGetPostFeedDetailArguments(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{{Name: "get_feed_detail", InputProperties: []string{"feedId", "xsecToken"}}},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: goodPost}, nil
		},
	}
	resolved := "https://www.xiaohongshu.com/discovery/item/abc?xsec_token=T1"
	c := NewWithHooks(testLogger(), staticDialer(sess), staticResolver(resolved))

	if _, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://xhslink.com/s/xyz"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}

	call := sess.lastCall()
	if call.name != "get_feed_detail" {
		t.Fatalf("tool = %q, want get_feed_detail", call.name)
	}
	if call.args["feedId"] != "abc" {
		t.Errorf("feedId = %v, want abc", call.args["feedId"])
	}
	if call.args["xsecToken"] != "T1" {
		t.Errorf("xsecToken = %v, want T1", call.args["xsecToken"])
	}
}

func TestGetPostTriesCandidateArgumentKeys(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			if _, ok := call.args["shareUrl"]; ok {
				return CallResult{Text: goodPost}, nil
			}
			return CallResult{Text: "invalid arguments", IsError: true}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)

	if _, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://example.com/p/2"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	// url fails, shareUrl succeeds.
	if sess.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", sess.callCount())
	}
}

func TestGetPostReconnectsOnTransportError(t *testing.T) {
	var dials int
	broken := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{}, fmt.Errorf("connection reset")
		},
	}
	healthy := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: goodPost}, nil
		},
	}
	dial := func(ctx context.Context, cfg *config.Config) (Session, error) {
		dials++
		if dials == 1 {
			return broken, nil
		}
		return healthy, nil
	}
	c := NewWithHooks(testLogger(), dial, identityResolver)

	if _, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://example.com/p/3"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
	if broken.closed == 0 {
		t.Error("broken session was not closed on reconnect")
	}
}

func TestGetPostRetriesOriginalURLOnNotFound(t *testing.T) {
	original := "https://xhslink.com/s/short"
	resolved := "https://www.xiaohongshu.com/explore/post?stripped=1"
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			if call.args["url"] == original {
				return CallResult{Text: goodPost}, nil
			}
			return CallResult{Text: "note not found", IsError: true}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), staticResolver(resolved))

	p, err := c.GetPost(context.Background(), config.DefaultConfig(), original)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Caption == "" {
		t.Error("expected post from original-URL retry")
	}
}

func TestGetPostFallsBackToAlternateTool(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note"), urlTool("fetch_page")},
		handler: func(call toolCall) (CallResult, error) {
			if call.name == "fetch_page" {
				return CallResult{Text: goodPost}, nil
			}
			return CallResult{Text: "internal error", IsError: true}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)

	if _, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://example.com/p/4"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if sess.lastCall().name != "fetch_page" {
		t.Fatalf("last tool = %q, want fetch_page", sess.lastCall().name)
	}
}

func TestGetPostToolErrorIsActionable(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: "access denied", IsError: true}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)

	_, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://example.com/p/5")
	if !errors.Is(err, errors.ErrTool) {
		t.Fatalf("err = %v, want tool error", err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Remediation == "" {
		t.Error("tool error should carry a remediation hint")
	}
}

func TestGetPostNoPlausibleTool(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{{Name: "ping"}, {Name: "echo"}},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)

	_, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://example.com/p/6")
	if !errors.Is(err, errors.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestConfiguredToolNameSkipsDetection(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("custom_fetch")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: goodPost}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)
	cfg := config.DefaultConfig()
	cfg.ToolName = "custom_fetch"

	if _, err := c.GetPost(context.Background(), cfg, "https://example.com/p/7"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if sess.lastCall().name != "custom_fetch" {
		t.Fatalf("tool = %q, want custom_fetch", sess.lastCall().name)
	}
}

func TestDisconnectDiscardsInFlightDial(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: goodPost}, nil
		},
	}
	release := make(chan struct{})
	dialing := make(chan struct{})
	dial := func(ctx context.Context, cfg *config.Config) (Session, error) {
		close(dialing)
		<-release
		return sess, nil
	}
	c := NewWithHooks(testLogger(), dial, identityResolver)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetPost(context.Background(), config.DefaultConfig(), "https://example.com/p/8")
		errCh <- err
	}()

	<-dialing
	c.Disconnect()
	close(release)

	if err := <-errCh; !errors.Is(err, errors.ErrConnectivity) {
		t.Fatalf("err = %v, want connectivity error for superseded dial", err)
	}
	if sess.closed == 0 {
		t.Error("superseded session was not closed")
	}
}

func TestResetSessionClearsCache(t *testing.T) {
	sess := &fakeSession{
		tools: []ToolInfo{urlTool("get_note")},
		handler: func(call toolCall) (CallResult, error) {
			return CallResult{Text: goodPost}, nil
		},
	}
	c := NewWithHooks(testLogger(), staticDialer(sess), identityResolver)
	cfg := config.DefaultConfig()

	if _, err := c.GetPost(context.Background(), cfg, "https://example.com/p/9"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	c.ResetSession()
	if _, err := c.GetPost(context.Background(), cfg, "https://example.com/p/9"); err != nil {
		t.Fatalf("GetPost after reset: %v", err)
	}
	if sess.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (reset must drop the cache)", sess.callCount())
	}
}

func TestConfigChangeReplacesSession(t *testing.T) {
	var dials int
	mk := func() *fakeSession {
		return &fakeSession{
			tools: []ToolInfo{urlTool("get_note")},
			handler: func(call toolCall) (CallResult, error) {
				return CallResult{Text: goodPost}, nil
			},
		}
	}
	first := mk()
	second := mk()
	dial := func(ctx context.Context, cfg *config.Config) (Session, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}
	c := NewWithHooks(testLogger(), dial, identityResolver)

	cfg := config.DefaultConfig()
	if _, err := c.GetPost(context.Background(), cfg, "https://example.com/p/10"); err != nil {
		t.Fatalf("GetPost: %v", err)
	}

	changed := config.DefaultConfig()
	changed.ServerURL = "http://127.0.0.1:19000/mcp"
	if _, err := c.GetPost(context.Background(), changed, "https://example.com/p/11"); err != nil {
		t.Fatalf("GetPost after config change: %v", err)
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
	if first.closed == 0 {
		t.Error("stale session was not closed after config change")
	}
}
