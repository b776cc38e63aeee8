package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"procura.dev/bid-workbench/internal/auth"
	"procura.dev/bid-workbench/internal/core"
	"procura.dev/bid-workbench/internal/pdfdoc"
	"procura.dev/bid-workbench/internal/report"
	"procura.dev/bid-workbench/internal/store"
)

type contextKey string

const reviewerKey contextKey = "reviewerID"

// ReviewerID returns the authenticated reviewer of a request.
func ReviewerID(ctx context.Context) string {
	id, _ := ctx.Value(reviewerKey).(string)
	return id
}

type APIHandler struct {
	workbench *core.Workbench
	issuer    *auth.Issuer
	renderer  pdfdoc.Renderer
	locator   pdfdoc.Locator
}

// NewAPIHandler wires the handlers. renderer may be nil when no documents
// are configured; the page routes then answer 404.
func NewAPIHandler(wb *core.Workbench, issuer *auth.Issuer, renderer pdfdoc.Renderer, locator pdfdoc.Locator) *APIHandler {
	return &APIHandler{workbench: wb, issuer: issuer, renderer: renderer, locator: locator}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		reviewerID, err := h.issuer.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), reviewerKey, reviewerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MutationResponse is returned by every call that changes the evaluation.
// Notice carries a transient message for the reviewer, such as a failed
// save or an unavailable LLM.
type MutationResponse struct {
	Result any        `json:"result,omitempty"`
	View   *core.View `json:"view,omitempty"`
	Notice string     `json:"notice,omitempty"`
}

func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := h.workbench.Session(r.Context(), chi.URLParam(r, "bidID"))
	if err != nil {
		zap.L().Error("failed to open evaluation session", zap.String("bid_id", chi.URLParam(r, "bidID")), zap.Error(err))
		writeDomainError(w, err)
		return nil, false
	}
	return sess, true
}

// respond saves the session and writes the mutation result with the
// current view. A failed save is reported as a notice, not an error.
func (h *APIHandler) respond(w http.ResponseWriter, r *http.Request, sess *core.Session, result any, notice string) {
	if err := sess.Save(r.Context()); err != nil {
		zap.L().Error("failed to save evaluation", zap.String("bid_id", sess.BidID()), zap.Error(err))
		notice = strings.TrimSpace(notice + " Changes could not be saved.")
	}
	view, err := sess.View()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Result: result, View: view, Notice: notice})
}

func (h *APIHandler) ListBidsHandler(w http.ResponseWriter, r *http.Request) {
	bids, err := h.workbench.ListBids(r.Context())
	if err != nil {
		zap.L().Error("failed to list bids", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list bids")
		return
	}
	if bids == nil {
		bids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"bids": bids})
}

type EvaluationResponse struct {
	View     *core.View `json:"view"`
	Partners []string   `json:"partners"`
	Criteria []string   `json:"criteria"`
}

func (h *APIHandler) GetEvaluationHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := sess.View()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var partners []string
	for _, p := range sess.Roster().All() {
		partners = append(partners, p.Name())
	}
	writeJSON(w, http.StatusOK, EvaluationResponse{View: view, Partners: partners, Criteria: sess.Catalogue().IDs()})
}

// GetDocumentHandler returns the evaluation document as it would be saved.
func (h *APIHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Document())
}

type CursorRequest struct {
	CriterionID *string `json:"criterion_id,omitempty"`
	Partner     *string `json:"partner,omitempty"`
	PdfPage     *int    `json:"pdf_page,omitempty"`
	// Initialize runs the default query when the selected partner has no data yet.
	Initialize bool `json:"initialize,omitempty"`
}

func (h *APIHandler) UpdateCursorHandler(w http.ResponseWriter, r *http.Request) {
	var req CursorRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if req.CriterionID != nil {
		if _, err := sess.SelectCriterion(*req.CriterionID); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.Partner != nil {
		p, err := sess.Roster().Parse(*req.Partner)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if _, err := sess.SelectPartner(p); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.PdfPage != nil {
		if err := sess.SetPdfPage(*req.PdfPage); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	var result any
	var notice string
	if req.Initialize {
		criterionID, p, _ := sess.Cursor()
		res, err := sess.EnsureInitialized(r.Context(), criterionID, p)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		result, notice = res, res.Notice
	}
	h.respond(w, r, sess, result, notice)
}

type ScopeRequest struct {
	CriterionID string `json:"criterion_id"`
	Partner     string `json:"partner"`
}

// scope resolves a request's criterion and partner, defaulting to the cursor.
func scope(sess *core.Session, req ScopeRequest) (string, core.PartnerID, error) {
	criterionID, partner, _ := sess.Cursor()
	if req.CriterionID != "" {
		criterionID = req.CriterionID
	}
	if req.Partner != "" {
		p, err := sess.Roster().Parse(req.Partner)
		if err != nil {
			return "", core.PartnerID{}, err
		}
		partner = p
	}
	return criterionID, partner, nil
}

func (h *APIHandler) InitializeHandler(w http.ResponseWriter, r *http.Request) {
	var req ScopeRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	criterionID, p, err := scope(sess, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := sess.EnsureInitialized(r.Context(), criterionID, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respond(w, r, sess, res, res.Notice)
}

type CellRequest struct {
	ScopeRequest
	Value      string `json:"value"`
	PageNumber int    `json:"page_number"`
}

func (h *APIHandler) EditCellHandler(w http.ResponseWriter, r *http.Request) {
	var req CellRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	criterionID, p, err := scope(sess, req.ScopeRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cell, err := sess.EditCell(criterionID, p, chi.URLParam(r, "cellKey"), req.Value, req.PageNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	zap.L().Info("cell edited",
		zap.String("bid_id", sess.BidID()),
		zap.String("reviewer", ReviewerID(r.Context())),
		zap.String("cell", chi.URLParam(r, "cellKey")),
		zap.Stringer("partner", p),
	)
	h.respond(w, r, sess, cell, "")
}

type ApprovalRequest struct {
	ScopeRequest
	// CellKey empty approves the whole row.
	CellKey  string `json:"cell_key,omitempty"`
	Approved bool   `json:"approved"`
}

func (h *APIHandler) ApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	criterionID, p, err := scope(sess, req.ScopeRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.CellKey == "" {
		err = sess.SetRowApproval(criterionID, p, req.Approved)
	} else {
		err = sess.SetCellApproval(criterionID, p, req.CellKey, req.Approved)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respond(w, r, sess, nil, "")
}

func (h *APIHandler) EditCombinedHandler(w http.ResponseWriter, r *http.Request) {
	var req CellRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if req.Partner == "" {
		writeError(w, http.StatusBadRequest, "partner is required")
		return
	}
	criterionID, p, err := scope(sess, req.ScopeRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	table, err := sess.EditCombinedContribution(criterionID, chi.URLParam(r, "fieldKey"), p, req.Value, req.PageNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respond(w, r, sess, table, "")
}

type MultiplierRequest struct {
	CriterionID string `json:"criterion_id"`
	Value       string `json:"value"`
	PageNumber  int    `json:"page_number"`
}

func (h *APIHandler) EditMultiplierHandler(w http.ResponseWriter, r *http.Request) {
	var req MultiplierRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	criterionID, _, _ := scope(sess, ScopeRequest{CriterionID: req.CriterionID})
	table, err := sess.EditMultiplier(criterionID, chi.URLParam(r, "year"), req.Value, req.PageNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respond(w, r, sess, table, "")
}

type BookmarkRequest struct {
	PageNumber int    `json:"page_number"`
	Action     string `json:"action"`
}

func (h *APIHandler) BookmarkHandler(w http.ResponseWriter, r *http.Request) {
	var req BookmarkRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var (
		pages []int
		err   error
	)
	switch strings.ToLower(req.Action) {
	case "", "toggle":
		pages, err = sess.ToggleBookmark(req.PageNumber)
	case "add":
		pages, err = sess.AddBookmark(req.PageNumber)
	case "remove":
		pages, err = sess.RemoveBookmark(req.PageNumber)
	default:
		writeError(w, http.StatusBadRequest, "action must be add, remove or toggle")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.respond(w, r, sess, pages, "")
}

type QueryRequest struct {
	Query    string `json:"query"`
	Generate bool   `json:"generate"`
	Force    bool   `json:"force"`
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	res, err := sess.RunQuery(r.Context(), req.Query, core.QueryOptions{Generate: req.Generate, Force: req.Force})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// RunQuery has already saved.
	view, err := sess.View()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Result: res, View: view, Notice: res.Notice})
}

func (h *APIHandler) SaveHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Save(r.Context()); err != nil {
		zap.L().Error("failed to save evaluation", zap.String("bid_id", sess.BidID()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to save evaluation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (h *APIHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(r.Context()); err != nil {
		zap.L().Error("failed to reset evaluation", zap.String("bid_id", sess.BidID()), zap.Error(err))
		writeDomainError(w, err)
		return
	}
	zap.L().Info("evaluation reset", zap.String("bid_id", sess.BidID()), zap.String("reviewer", ReviewerID(r.Context())))
	h.respond(w, r, sess, nil, "")
}

func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	exp, err := sess.Export()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="evaluation-`+sess.BidID()+`.xlsx"`)
	if err := report.WriteWorkbook(w, exp); err != nil {
		zap.L().Error("failed to write workbook", zap.String("bid_id", sess.BidID()), zap.Error(err))
	}
}

func (h *APIHandler) PageCountHandler(w http.ResponseWriter, r *http.Request) {
	url := h.documentURL(r)
	if h.renderer == nil || url == "" {
		writeError(w, http.StatusNotFound, "No document is configured for this bid")
		return
	}
	n, err := h.renderer.PageCount(r.Context(), url)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"page_count": n})
}

func (h *APIHandler) PageHandler(w http.ResponseWriter, r *http.Request) {
	url := h.documentURL(r)
	if h.renderer == nil || url == "" {
		writeError(w, http.StatusNotFound, "No document is configured for this bid")
		return
	}
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	opts := pdfdoc.RenderOptions{Zoom: 1}
	if z := r.URL.Query().Get("zoom"); z != "" {
		if opts.Zoom, err = strconv.ParseFloat(z, 64); err != nil {
			writeError(w, http.StatusBadRequest, "zoom must be a number")
			return
		}
	}
	if rot := r.URL.Query().Get("rotation"); rot != "" {
		if opts.Rotation, err = strconv.Atoi(rot); err != nil {
			writeError(w, http.StatusBadRequest, "rotation must be an integer")
			return
		}
	}
	p, err := h.renderer.RenderPage(r.Context(), url, page, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *APIHandler) documentURL(r *http.Request) string {
	return h.locator.URLFor(chi.URLParam(r, "bidID"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps known failures to a status and a message that is
// safe to show; anything else is a 500 with a generic message.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnknownPartner):
		writeError(w, http.StatusBadRequest, core.ErrUnknownPartner.Error())
	case errors.Is(err, core.ErrUnknownCriterion):
		writeError(w, http.StatusBadRequest, core.ErrUnknownCriterion.Error())
	case errors.Is(err, core.ErrUnknownField):
		writeError(w, http.StatusBadRequest, core.ErrUnknownField.Error())
	case errors.Is(err, core.ErrInvalidMultiplier):
		writeError(w, http.StatusBadRequest, core.ErrInvalidMultiplier.Error())
	case errors.Is(err, core.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, core.ErrInvalidPage.Error())
	case errors.Is(err, core.ErrCombinedReadOnly):
		writeError(w, http.StatusConflict, core.ErrCombinedReadOnly.Error())
	case errors.Is(err, core.ErrNotLoaded):
		writeError(w, http.StatusConflict, core.ErrNotLoaded.Error())
	case errors.Is(err, core.ErrGenerationUnavailable):
		writeError(w, http.StatusServiceUnavailable, core.ErrGenerationUnavailable.Error())
	case errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, store.ErrDocumentNotFound.Error())
	case errors.Is(err, pdfdoc.ErrPageOutOfRange):
		writeError(w, http.StatusNotFound, pdfdoc.ErrPageOutOfRange.Error())
	case errors.Is(err, pdfdoc.ErrNoDocument):
		writeError(w, http.StatusNotFound, pdfdoc.ErrNoDocument.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
