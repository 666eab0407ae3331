// Package app coordinates user-facing operations: fetching posts, generating
// recipes, and aborting in-flight work.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/completion"
	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/db"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
	"github.com/Yinuo-Yao/xhs-recipe/internal/images"
	"github.com/Yinuo-Yao/xhs-recipe/internal/launcher"
	"github.com/Yinuo-Yao/xhs-recipe/internal/post"
	"github.com/Yinuo-Yao/xhs-recipe/internal/recipe"
	"github.com/Yinuo-Yao/xhs-recipe/internal/toolclient"
)

// GenerateInput is one recipe-generation request.
type GenerateInput struct {
	SourceURL string
	Caption   string
	Images    []post.Image
}

// ImageMeta reports how attachment preparation went.
type ImageMeta struct {
	Requested int              `json:"requested"`
	Attached  int              `json:"attached"`
	Failures  []images.Failure `json:"failures,omitempty"`
}

// GenerateResult carries the document and its attachment metadata.
type GenerateResult struct {
	ID       string    `json:"id,omitempty"`
	Markdown string    `json:"markdown"`
	Model    string    `json:"model"`
	Meta     struct {
		Images ImageMeta `json:"images"`
	} `json:"meta"`
}

// fetcher and generator let tests substitute the downstream clients.
type fetcher interface {
	GetPost(ctx context.Context, cfg *config.Config, sourceURL string) (*post.Post, error)
	Disconnect()
	ResetSession()
}

type generator interface {
	GenerateMarkdown(ctx context.Context, req completion.Request) (string, error)
}

type attacher interface {
	Prepare(ctx context.Context, cfg *config.Config, imgs []post.Image) images.Result
}

type inflightRequest struct {
	kind   string // fetch | generate
	cancel context.CancelFunc
}

// App is the request coordinator. It owns the in-flight table and is the
// single layer that turns internal retries into user-visible failures.
type App struct {
	cfg      *config.Config
	logger   *log.Logger
	launcher *launcher.Launcher
	tools    fetcher
	compl    generator
	images   attacher
	database *sql.DB // nil disables history

	mu       sync.Mutex
	inflight map[string]*inflightRequest
}

// New wires the production components together. database may be nil.
func New(cfg *config.Config, logger *log.Logger, database *sql.DB) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		launcher: launcher.New(logger),
		tools:    toolclient.New(logger),
		compl:    completion.New(cfg, logger),
		images:   images.New(logger),
		database: database,
		inflight: make(map[string]*inflightRequest),
	}
}

// FetchPost fetches and normalizes the post behind sourceURL. An empty
// requestID mints one. Aborting the request forces a tool client reconnect
// because a mid-flight tool call may not be interruptible on all transports.
func (a *App) FetchPost(ctx context.Context, sourceURL, requestID string) (*post.Post, error) {
	opCtx, done, err := a.register(ctx, requestID, "fetch")
	if err != nil {
		return nil, err
	}
	defer done()

	type outcome struct {
		p   *post.Post
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		p, err := a.fetchPost(opCtx, sourceURL)
		out <- outcome{p, err}
	}()

	select {
	case o := <-out:
		if errors.Cancelled(o.err) {
			a.tools.Disconnect()
			return nil, errors.NewCancelled("fetch")
		}
		return o.p, o.err
	case <-opCtx.Done():
		a.tools.Disconnect()
		return nil, errors.NewCancelled("fetch")
	}
}

func (a *App) fetchPost(ctx context.Context, sourceURL string) (*post.Post, error) {
	state := a.launcher.EnsureStarted(ctx, a.cfg, "fetch")
	switch state.Kind {
	case launcher.StateReady, launcher.StateDisabled:
	default:
		return nil, errors.NewConnectivity(fmt.Sprintf("tool server unavailable: %s", state.Message), nil)
	}
	return a.tools.GetPost(ctx, a.cfg, sourceURL)
}

// GenerateRecipe prepares image attachments, calls the completion endpoint,
// and wraps the result into the final document. Successful generations are
// recorded in history when a database is attached.
func (a *App) GenerateRecipe(ctx context.Context, in GenerateInput, requestID string) (*GenerateResult, error) {
	opCtx, done, err := a.register(ctx, requestID, "generate")
	if err != nil {
		return nil, err
	}
	defer done()

	type outcome struct {
		r   *GenerateResult
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		r, err := a.generate(opCtx, in)
		out <- outcome{r, err}
	}()

	select {
	case o := <-out:
		if errors.Cancelled(o.err) {
			return nil, errors.NewCancelled("generate")
		}
		return o.r, o.err
	case <-opCtx.Done():
		return nil, errors.NewCancelled("generate")
	}
}

func (a *App) generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	imgResult := a.images.Prepare(ctx, a.cfg, in.Images)
	if ctx.Err() != nil {
		return nil, errors.NewCancelled("generate")
	}
	if len(imgResult.Failures) > 0 {
		a.logger.Warn("some images were not attached",
			"requested", imgResult.Requested, "attached", imgResult.Attached)
	}

	req := completion.Request{
		Model:         a.cfg.Model,
		SystemPrompt:  recipe.SystemPrompt(a.cfg.Language),
		UserPrompt:    recipe.UserPrompt(in.Caption, in.SourceURL, imgResult.Attached),
		ImageDataURLs: imgResult.DataURLs,
	}

	text, err := a.compl.GenerateMarkdown(ctx, req)
	usedModel := req.Model
	if err != nil && a.shouldFallBack(req.Model, err) {
		a.logger.Warn("primary model produced no output, retrying with fallback",
			"model", req.Model, "fallback", a.cfg.FallbackModel)
		req.Model = a.cfg.FallbackModel
		text, err = a.compl.GenerateMarkdown(ctx, req)
		usedModel = req.Model
	}
	if err != nil {
		return nil, err
	}

	result := &GenerateResult{
		Markdown: recipe.WrapDocument(text, in.SourceURL, usedModel, time.Now()),
		Model:    usedModel,
	}
	result.Meta.Images = ImageMeta{
		Requested: imgResult.Requested,
		Attached:  imgResult.Attached,
		Failures:  imgResult.Failures,
	}

	if a.database != nil {
		row := &db.Recipe{
			ID:        db.NewID(),
			SourceURL: in.SourceURL,
			Caption:   in.Caption,
			Markdown:  result.Markdown,
			Model:     usedModel,
			CreatedAt: time.Now().Unix(),
		}
		if err := db.Insert(a.database, row); err != nil {
			a.logger.Warn("could not record recipe in history", "error", err)
		} else {
			result.ID = row.ID
		}
	}
	return result, nil
}

// shouldFallBack reports whether a failed primary call qualifies for the
// one-shot model fallback: newer-family primary, blank-output class, and a
// distinct fallback model configured.
func (a *App) shouldFallBack(model string, err error) bool {
	if !completion.UsesResponsesAPI(model) {
		return false
	}
	if !completion.IsBlankOutput(err) {
		return false
	}
	return a.cfg.FallbackModel != "" && a.cfg.FallbackModel != model
}

// register mints a request id when needed and installs the cancellation
// handle. A duplicate id is rejected. The returned done func removes the
// entry and must run on every exit path.
func (a *App) register(ctx context.Context, requestID, kind string) (context.Context, func(), error) {
	id := requestID
	if id == "" {
		id = db.NewID()
	}

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if _, exists := a.inflight[id]; exists {
		a.mu.Unlock()
		cancel()
		return nil, nil, errors.NewInternal(fmt.Errorf("request %q is already in flight", id))
	}
	a.inflight[id] = &inflightRequest{kind: kind, cancel: cancel}
	a.mu.Unlock()

	done := func() {
		a.mu.Lock()
		delete(a.inflight, id)
		a.mu.Unlock()
		cancel()
	}
	return ctx, done, nil
}

// AbortRequest cancels one in-flight request. Other requests are unaffected.
func (a *App) AbortRequest(requestID string) error {
	a.mu.Lock()
	entry, ok := a.inflight[requestID]
	a.mu.Unlock()
	if !ok {
		return errors.NewNotFound(requestID)
	}
	entry.cancel()
	return nil
}

// AbortAllRequests cancels every in-flight request, tears down the tool
// client connection once, and returns the count aborted.
func (a *App) AbortAllRequests() int {
	a.mu.Lock()
	entries := make([]*inflightRequest, 0, len(a.inflight))
	for _, e := range a.inflight {
		entries = append(entries, e)
	}
	a.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	if len(entries) > 0 {
		a.tools.Disconnect()
	}
	return len(entries)
}

// ClearSession resets the tool client's cache, detection, and connection.
// In-flight requests keep running; callers wanting a full stop abort first.
func (a *App) ClearSession() {
	a.tools.ResetSession()
}

// CheckConnection runs one launcher attempt and returns the resulting state.
func (a *App) CheckConnection(ctx context.Context) launcher.ConnectionState {
	return a.launcher.EnsureStarted(ctx, a.cfg, "status check")
}

// ConnectionStatus returns the launcher's current state.
func (a *App) ConnectionStatus() launcher.ConnectionState {
	return a.launcher.State()
}

// Subscribe registers an observer for connection state changes.
func (a *App) Subscribe(fn func(launcher.ConnectionState)) {
	a.launcher.Subscribe(fn)
}

// Shutdown terminates any launcher-managed server process and closes the
// tool client connection.
func (a *App) Shutdown() {
	a.tools.Disconnect()
	a.launcher.Shutdown()
}

// InFlightCount reports the current in-flight table size.
func (a *App) InFlightCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}
