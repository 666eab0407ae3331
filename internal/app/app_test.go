package app

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/completion"
	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/db"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
	"github.com/Yinuo-Yao/xhs-recipe/internal/images"
	"github.com/Yinuo-Yao/xhs-recipe/internal/launcher"
	"github.com/Yinuo-Yao/xhs-recipe/internal/post"
)

type fakeTools struct {
	mu          sync.Mutex
	disconnects int
	resets      int
	getPost     func(ctx context.Context) (*post.Post, error)
}

func (f *fakeTools) GetPost(ctx context.Context, cfg *config.Config, sourceURL string) (*post.Post, error) {
	return f.getPost(ctx)
}

func (f *fakeTools) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTools) ResetSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeTools) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeCompletion struct {
	mu       sync.Mutex
	requests []completion.Request
	handler  func(req completion.Request) (string, error)
}

func (f *fakeCompletion) GenerateMarkdown(ctx context.Context, req completion.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handler(req)
}

type fakeImages struct {
	result images.Result
}

func (f *fakeImages) Prepare(ctx context.Context, cfg *config.Config, imgs []post.Image) images.Result {
	return f.result
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

func testApp(cfg *config.Config, tools *fakeTools, compl *fakeCompletion, img *fakeImages) *App {
	logger := testLogger()
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Transport = config.TransportHTTP
	}
	if tools == nil {
		tools = &fakeTools{getPost: func(ctx context.Context) (*post.Post, error) {
			return &post.Post{Caption: "dish"}, nil
		}}
	}
	if compl == nil {
		compl = &fakeCompletion{handler: func(req completion.Request) (string, error) {
			return "## Title\nDish", nil
		}}
	}
	if img == nil {
		img = &fakeImages{}
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		launcher: launcher.New(logger),
		tools:    tools,
		compl:    compl,
		images:   img,
		inflight: make(map[string]*inflightRequest),
	}
}

func blockingTools() *fakeTools {
	return &fakeTools{getPost: func(ctx context.Context) (*post.Post, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func waitForInFlight(t *testing.T, a *App, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for a.InFlightCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight count never reached %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFetchPostSuccess(t *testing.T) {
	a := testApp(nil, nil, nil, nil)

	p, err := a.FetchPost(context.Background(), "https://example.com/p/1", "")
	if err != nil {
		t.Fatalf("FetchPost: %v", err)
	}
	if p.Caption != "dish" {
		t.Errorf("caption = %q", p.Caption)
	}
	if a.InFlightCount() != 0 {
		t.Error("in-flight entry leaked after completion")
	}
}

func TestAbortRequestCancelsFetchAndForcesReconnect(t *testing.T) {
	tools := blockingTools()
	a := testApp(nil, tools, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.FetchPost(context.Background(), "https://example.com/p/1", "req-1")
		errCh <- err
	}()
	waitForInFlight(t, a, 1)

	if err := a.AbortRequest("req-1"); err != nil {
		t.Fatalf("AbortRequest: %v", err)
	}
	if err := <-errCh; !errors.Is(err, errors.ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if tools.disconnectCount() == 0 {
		t.Error("aborted fetch must force a tool client reconnect")
	}
	if a.InFlightCount() != 0 {
		t.Error("aborted entry still in flight")
	}
}

func TestAbortRequestNotFound(t *testing.T) {
	a := testApp(nil, nil, nil, nil)
	if err := a.AbortRequest("missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestAbortAllRequests(t *testing.T) {
	tools := blockingTools()
	a := testApp(nil, tools, nil, nil)

	errCh := make(chan error, 2)
	for _, id := range []string{"req-1", "req-2"} {
		go func(id string) {
			_, err := a.FetchPost(context.Background(), "https://example.com/p/1", id)
			errCh <- err
		}(id)
	}
	waitForInFlight(t, a, 2)

	if n := a.AbortAllRequests(); n != 2 {
		t.Fatalf("aborted = %d, want 2", n)
	}
	for i := 0; i < 2; i++ {
		if err := <-errCh; !errors.Is(err, errors.ErrCancelled) {
			t.Fatalf("err = %v, want cancelled", err)
		}
	}
	if a.InFlightCount() != 0 {
		t.Error("in-flight table not drained")
	}
}

func TestAbortDoesNotAffectOtherRequests(t *testing.T) {
	release := make(chan struct{})
	tools := &fakeTools{getPost: func(ctx context.Context) (*post.Post, error) {
		select {
		case <-release:
			return &post.Post{Caption: "survivor"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	a := testApp(nil, tools, nil, nil)

	type result struct {
		p   *post.Post
		err error
	}
	ch1 := make(chan result, 1)
	ch2 := make(chan result, 1)
	go func() {
		p, err := a.FetchPost(context.Background(), "https://example.com/p/1", "victim")
		ch1 <- result{p, err}
	}()
	go func() {
		p, err := a.FetchPost(context.Background(), "https://example.com/p/2", "survivor")
		ch2 <- result{p, err}
	}()
	waitForInFlight(t, a, 2)

	if err := a.AbortRequest("victim"); err != nil {
		t.Fatal(err)
	}
	r1 := <-ch1
	if !errors.Is(r1.err, errors.ErrCancelled) {
		t.Fatalf("victim err = %v, want cancelled", r1.err)
	}

	close(release)
	r2 := <-ch2
	if r2.err != nil {
		t.Fatalf("survivor err = %v", r2.err)
	}
	if r2.p.Caption != "survivor" {
		t.Errorf("survivor caption = %q", r2.p.Caption)
	}
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	tools := blockingTools()
	a := testApp(nil, tools, nil, nil)

	go a.FetchPost(context.Background(), "https://example.com/p/1", "req-1")
	waitForInFlight(t, a, 1)

	_, err := a.FetchPost(context.Background(), "https://example.com/p/2", "req-1")
	if err == nil {
		t.Fatal("duplicate request id must be rejected")
	}
	a.AbortAllRequests()
}

func TestGenerateRecipeModelFallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport = config.TransportHTTP
	cfg.Model = "gpt-5-mini"
	cfg.FallbackModel = "gpt-4o"
	compl := &fakeCompletion{handler: func(req completion.Request) (string, error) {
		if req.Model == "gpt-5-mini" {
			return "", completion.ErrBlankOutput
		}
		return "## Title\nFrom fallback", nil
	}}
	a := testApp(cfg, nil, compl, nil)

	result, err := a.GenerateRecipe(context.Background(), GenerateInput{SourceURL: "https://example.com/p/1"}, "")
	if err != nil {
		t.Fatalf("GenerateRecipe: %v", err)
	}
	if result.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", result.Model)
	}
	if !strings.Contains(result.Markdown, "From fallback") {
		t.Error("fallback output missing from document")
	}
	if len(compl.requests) != 2 {
		t.Errorf("completion calls = %d, want 2", len(compl.requests))
	}
}

func TestGenerateRecipeNoFallbackForOlderFamily(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport = config.TransportHTTP
	cfg.Model = "gpt-4o"
	cfg.FallbackModel = "gpt-4o-mini"
	compl := &fakeCompletion{handler: func(req completion.Request) (string, error) {
		return "", completion.ErrBlankOutput
	}}
	a := testApp(cfg, nil, compl, nil)

	_, err := a.GenerateRecipe(context.Background(), GenerateInput{}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(compl.requests) != 1 {
		t.Errorf("completion calls = %d, want 1 (no fallback for this family)", len(compl.requests))
	}
}

func TestGenerateRecipeReportsImageMeta(t *testing.T) {
	img := &fakeImages{result: images.Result{
		DataURLs:  []string{"data:image/jpeg;base64,AA", "data:image/jpeg;base64,BB"},
		Requested: 3,
		Attached:  2,
		Failures:  []images.Failure{{ID: "img-3", Reason: "download_failed"}},
	}}
	compl := &fakeCompletion{handler: func(req completion.Request) (string, error) {
		return "## Title\nDish", nil
	}}
	a := testApp(nil, nil, compl, img)

	result, err := a.GenerateRecipe(context.Background(), GenerateInput{}, "")
	if err != nil {
		t.Fatalf("GenerateRecipe: %v", err)
	}
	meta := result.Meta.Images
	if meta.Requested != 3 || meta.Attached != 2 || len(meta.Failures) != 1 {
		t.Errorf("meta = %+v", meta)
	}
	if len(compl.requests[0].ImageDataURLs) != 2 {
		t.Errorf("attached data URLs = %d, want 2", len(compl.requests[0].ImageDataURLs))
	}
}

func TestGenerateRecipeRecordsHistory(t *testing.T) {
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	a := testApp(nil, nil, nil, nil)
	a.database = database

	result, err := a.GenerateRecipe(context.Background(), GenerateInput{SourceURL: "https://example.com/p/1", Caption: "红烧肉"}, "")
	if err != nil {
		t.Fatalf("GenerateRecipe: %v", err)
	}
	if result.ID == "" {
		t.Fatal("result should carry the history row id")
	}

	rows, err := db.ListRecent(database, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != result.ID {
		t.Fatalf("history rows = %+v", rows)
	}
	if rows[0].Caption != "红烧肉" {
		t.Errorf("caption = %q", rows[0].Caption)
	}
}

func TestClearSessionResetsToolClient(t *testing.T) {
	tools := &fakeTools{getPost: func(ctx context.Context) (*post.Post, error) {
		return &post.Post{}, nil
	}}
	a := testApp(nil, tools, nil, nil)

	a.ClearSession()
	if tools.resets != 1 {
		t.Errorf("resets = %d, want 1", tools.resets)
	}
}
