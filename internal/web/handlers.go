package web

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/app"
	"github.com/Yinuo-Yao/xhs-recipe/internal/db"
	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
	"github.com/Yinuo-Yao/xhs-recipe/internal/post"
	"github.com/Yinuo-Yao/xhs-recipe/internal/recipe"
)

// Handlers holds dependencies for the API endpoints.
type Handlers struct {
	app    *app.App
	db     *sql.DB
	logger *log.Logger
}

type fetchRequest struct {
	URL       string `json:"url"`
	RequestID string `json:"requestId"`
}

type generateRequest struct {
	SourceURL string       `json:"sourceUrl"`
	Caption   string       `json:"caption"`
	Images    []post.Image `json:"images"`
	RequestID string       `json:"requestId"`
}

type abortRequest struct {
	RequestID string `json:"requestId"`
}

// HandleFetch fetches and normalizes a shared post URL.
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		renderError(w, http.StatusBadRequest, "request body must be JSON with a non-empty url")
		return
	}

	p, err := h.app.FetchPost(r.Context(), req.URL, req.RequestID)
	if err != nil {
		h.renderFailure(w, err)
		return
	}
	renderJSON(w, http.StatusOK, p)
}

// HandleGenerate produces a recipe document for previously fetched content.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}

	in := app.GenerateInput{SourceURL: req.SourceURL, Caption: req.Caption, Images: req.Images}
	result, err := h.app.GenerateRecipe(r.Context(), in, req.RequestID)
	if err != nil {
		h.renderFailure(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleAbort cancels one in-flight request.
func (h *Handlers) HandleAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		renderError(w, http.StatusBadRequest, "request body must be JSON with a non-empty requestId")
		return
	}

	if err := h.app.AbortRequest(req.RequestID); err != nil {
		h.renderFailure(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"aborted": true})
}

// HandleAbortAll cancels every in-flight request.
func (h *Handlers) HandleAbortAll(w http.ResponseWriter, r *http.Request) {
	n := h.app.AbortAllRequests()
	renderJSON(w, http.StatusOK, map[string]any{"aborted": n})
}

// HandleClearSession resets the tool client session and caches.
func (h *Handlers) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	h.app.ClearSession()
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus reports the launcher's connection state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.app.ConnectionStatus())
}

type historyItem struct {
	ID        string `json:"id"`
	SourceURL string `json:"sourceUrl"`
	Caption   string `json:"caption,omitempty"`
	Model     string `json:"model"`
	CreatedAt int64  `json:"createdAt"`
}

// HandleHistory lists recent generations, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		renderError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			renderError(w, http.StatusBadRequest, "limit must be an integer between 1 and 200")
			return
		}
		limit = n
	}

	rows, err := db.ListRecent(h.db, limit)
	if err != nil {
		h.renderFailure(w, err)
		return
	}

	items := make([]historyItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, historyItem{
			ID:        row.ID,
			SourceURL: row.SourceURL,
			Caption:   row.Caption,
			Model:     row.Model,
			CreatedAt: row.CreatedAt,
		})
	}
	renderJSON(w, http.StatusOK, map[string]any{"items": items})
}

// HandlePreview renders one stored recipe as HTML.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		renderError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	row, err := db.GetByID(h.db, r.PathValue("id"))
	if err != nil {
		h.renderFailure(w, err)
		return
	}

	html, err := recipe.RenderHTML(row.Markdown)
	if err != nil {
		h.renderFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

// renderFailure maps a typed error to an HTTP status and JSON body.
func (h *Handlers) renderFailure(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= 500 {
		h.logger.Error("request failed", "error", err)
	}

	body := map[string]any{
		"error": err.Error(),
		"code":  string(errors.Code(err)),
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Remediation != "" {
		body["remediation"] = e.Remediation
	}
	renderJSON(w, status, body)
}

func httpStatus(err error) int {
	switch errors.Code(err) {
	case errors.ErrConfig:
		return http.StatusBadRequest
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrCancelled:
		return http.StatusConflict
	case errors.ErrContentPolicy:
		return http.StatusUnprocessableEntity
	case errors.ErrTool, errors.ErrConnectivity:
		return http.StatusBadGateway
	case errors.ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes a plain JSON error message.
func renderError(w http.ResponseWriter, status int, msg string) {
	renderJSON(w, status, map[string]any{"error": msg})
}
