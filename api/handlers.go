/*
handlers.go - HTTP API handlers for the forecast dashboard

PURPOSE:
  Exposes the dashboard App via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the dashboard
  package for every state change.

ENDPOINTS:
  Forecast:
    GET    /api/forecast                         Current page, pagination, summary
    POST   /api/forecast/fetch                   Start a batched fetch
    GET    /api/forecast/{variantId}             One variant

  Edits:
    POST   /api/forecast/{variantId}/growth-rate
    POST   /api/forecast/{variantId}/expected-sales
    POST   /api/forecast/{variantId}/min-stock
    POST   /api/forecast/{variantId}/delivery-time
    POST   /api/forecast/{variantId}/reorders
    PUT    /api/forecast/{variantId}/reorders/{year}/{week}/{index}
    DELETE /api/forecast/{variantId}/reorders/{year}/{week}/{index}
    POST   /api/forecast/{variantId}/revert/{field}

  Bulk:
    POST   /api/bulk/edit
    POST   /api/bulk/revert

  State:
    GET    /api/ledgers/{variantId}
    GET|POST|DELETE /api/selection
    GET    /api/summary
    GET    /api/calendar/{year}
    GET    /api/notifications
    GET    /api/audit
    GET    /api/outbox
    POST   /api/outbox/retry

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags on the DTO)
  3. Call the dashboard App
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with HTTP status:
  - 400: Validation errors, invalid edits
  - 404: Unknown variant or week
  - 409: Stale fetch
  - 502: Upstream persistence failure
  - 503: No upstream configured for fetching
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - dashboard/app.go: The operations behind every endpoint
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/forecast-engine/dashboard"
	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	App *dashboard.App

	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new handler around app.
func NewHandler(app *dashboard.App, log zerolog.Logger) *Handler {
	return &Handler{
		App:      app,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With().Str("component", "api").Logger(),
	}
}

var errFetchUnavailable = errors.New("no upstream configured for fetching")

// =============================================================================
// FORECAST
// =============================================================================

// GetForecast returns the loaded products with pagination and summary.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	p := h.App.Products
	writeJSON(w, http.StatusOK, ForecastResponse{
		Products:   p.List(),
		Pagination: p.Pagination(),
		Summary:    p.Summary(),
		Generation: p.Generation(),
	})
}

// Fetch starts a batched fetch for a query. Without wait it returns 202
// with the generation the fetch will apply under.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	if h.App.Loader == nil {
		writeError(w, http.StatusServiceUnavailable, "fetch_unavailable", "Fetching is not configured", errFetchUnavailable)
		return
	}

	var req FetchRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	if !req.Wait {
		gen := h.App.Loader.Start(req.toQuery())
		writeJSON(w, http.StatusAccepted, FetchResponse{Generation: gen, Started: true})
		return
	}

	res, err := h.App.Loader.Load(r.Context(), req.toQuery())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FetchResponse{Generation: res.Generation, Result: &res})
}

func (h *Handler) GetVariant(w http.ResponseWriter, r *http.Request) {
	v, err := h.App.Variant(variantParam(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.variantDTO(v))
}

// =============================================================================
// CELL EDITS
// =============================================================================

func (h *Handler) EditGrowthRate(w http.ResponseWriter, r *http.Request) {
	h.editCell(w, r, h.App.EditGrowthRate)
}

func (h *Handler) EditExpectedSales(w http.ResponseWriter, r *http.Request) {
	h.editCell(w, r, h.App.EditExpectedSales)
}

func (h *Handler) EditMinStock(w http.ResponseWriter, r *http.Request) {
	h.editCell(w, r, h.App.EditMinStock)
}

type cellEdit func(ctx context.Context, id forecast.VariantID, key forecast.WeekKey, value int) (forecast.Variant, error)

func (h *Handler) editCell(w http.ResponseWriter, r *http.Request, edit cellEdit) {
	var req CellEditRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	v, err := edit(r.Context(), variantParam(r), h.weekKey(req.Year, req.Week), *req.Value)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.variantDTO(v))
}

func (h *Handler) ChangeDeliveryTime(w http.ResponseWriter, r *http.Request) {
	var req DeliveryTimeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	v, err := h.App.ChangeDeliveryTime(r.Context(), variantParam(r), *req.DeliveryTime)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.variantDTO(v))
}

// =============================================================================
// REORDERS
// =============================================================================

func (h *Handler) AddReorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	v, err := h.App.AddReorder(r.Context(), variantParam(r), h.weekKey(req.Year, req.Week), req.Amount, req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.variantDTO(v))
}

func (h *Handler) SetReorderStatus(w http.ResponseWriter, r *http.Request) {
	key, index, err := reorderParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req ReorderStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	v, err := h.App.SetReorderStatus(r.Context(), variantParam(r), key, index, req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.variantDTO(v))
}

func (h *Handler) RemoveReorder(w http.ResponseWriter, r *http.Request) {
	key, index, err := reorderParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	v, err := h.App.RemoveReorder(r.Context(), variantParam(r), key, index)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.variantDTO(v))
}

// =============================================================================
// REVERTS
// =============================================================================

// Revert restores one cell of one field. A cell without a ledger entry is
// answered with changed=false.
func (h *Handler) Revert(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	field := forecast.Field(chi.URLParam(r, "field"))
	v, changed, err := h.App.Revert(r.Context(), variantParam(r), h.weekKey(req.Year, req.Week), field)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevertResponse{Variant: h.variantDTO(v), Changed: changed})
}

// =============================================================================
// BULK
// =============================================================================

func (h *Handler) BulkEdit(w http.ResponseWriter, r *http.Request) {
	var req BulkEditRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.App.BulkEdit(r.Context(), req.toDomain(h.idsOrSelection(req.VariantIDs)))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) BulkRevert(w http.ResponseWriter, r *http.Request) {
	var req BulkRevertRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.App.BulkRevert(r.Context(), h.idsOrSelection(req.VariantIDs))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) idsOrSelection(raw []string) []forecast.VariantID {
	if len(raw) == 0 {
		return h.App.Products.Selected()
	}
	ids := make([]forecast.VariantID, len(raw))
	for i, id := range raw {
		ids[i] = forecast.VariantID(id)
	}
	return ids
}

// =============================================================================
// STATE
// =============================================================================

// GetLedgers lists the changed weeks and original values of one variant.
func (h *Handler) GetLedgers(w http.ResponseWriter, r *http.Request) {
	id := variantParam(r)
	if _, err := h.App.Variant(id); err != nil {
		h.fail(w, err)
		return
	}

	dto := LedgerDTO{
		VariantID:   id,
		Fields:      make(map[forecast.Field]LedgerFieldDTO, len(forecast.Fields)),
		HasSnapshot: h.App.Ledgers.Snapshots.Has(id),
	}
	for _, field := range forecast.Fields {
		l := h.App.Ledgers.For(field)
		weeks := l.ChangedWeeks(id)
		if weeks == nil {
			weeks = []forecast.WeekKey{}
		}
		dto.Fields[field] = LedgerFieldDTO{ChangedWeeks: weeks, Originals: l.Originals(id)}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SelectionResponse{Selected: h.App.Products.Selected()})
}

func (h *Handler) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	p := h.App.Products
	switch {
	case req.All:
		p.SelectAll()
	case req.Toggle != "":
		if _, err := p.Toggle(forecast.VariantID(req.Toggle)); err != nil {
			h.fail(w, err)
			return
		}
	default:
		p.Select(h.idsOrSelection(req.VariantIDs)...)
	}
	writeJSON(w, http.StatusOK, SelectionResponse{Selected: p.Selected()})
}

func (h *Handler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.App.Products.ClearSelection()
	writeJSON(w, http.StatusOK, SelectionResponse{Selected: h.App.Products.Selected()})
}

// GetSummary returns the inventory status summary. With ?source=local it is
// recomputed from the loaded variants.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "local" {
		writeJSON(w, http.StatusOK, h.App.Products.LocalSummary())
		return
	}
	writeJSON(w, http.StatusOK, h.App.Products.Summary())
}

func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1970 || year > 9999 {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid year", err)
		return
	}
	writeJSON(w, http.StatusOK, CalendarResponse{
		Year:        year,
		CurrentWeek: h.App.Engine.CurrentWeek(),
		Weeks:       forecast.WeeksOfYear(year),
	})
}

// GetNotifications drains pending notifications. ?peek=true leaves them.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("peek") == "true" {
		writeJSON(w, http.StatusOK, h.App.Notes.Peek())
		return
	}
	writeJSON(w, http.StatusOK, h.App.Notes.Drain())
}

// GetAudit queries the audit log.
//
// Query params: variantId, action (repeatable), from, to (RFC 3339), limit.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid audit query", err)
		return
	}

	entries, err := h.App.Audit(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Action:    string(e.Action),
			VariantID: string(e.VariantID),
			Week:      e.Week,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func auditFilter(r *http.Request) (forecast.AuditFilter, error) {
	q := r.URL.Query()
	var f forecast.AuditFilter

	if id := q.Get("variantId"); id != "" {
		vid := forecast.VariantID(id)
		f.VariantID = &vid
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, forecast.AuditAction(a))
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit: invalid value %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

// GetOutbox lists variants whose latest state has not reached the backend.
func (h *Handler) GetOutbox(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OutboxResponse{Dirty: h.App.Outbox.Dirty()})
}

// RetryOutbox re-pushes dirty variants now.
func (h *Handler) RetryOutbox(w http.ResponseWriter, r *http.Request) {
	res := h.App.Outbox.RetryDirty(r.Context())
	resp := RetryResponse{Attempted: res.Attempted, Succeeded: res.Succeeded}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps err onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var (
		decodeErr *decodeError
		invalid   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &decodeErr):
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "validation_failed", "Request validation failed", err)
	case forecast.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid_edit", "Edit rejected", err)
	case forecast.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "Not found", err)
	case errors.Is(err, forecast.ErrStaleFetch):
		writeError(w, http.StatusConflict, "stale_fetch", "Fetch superseded by a newer one", err)
	case errors.Is(err, forecast.ErrPersistence):
		writeError(w, http.StatusBadGateway, "persistence_failed", "Upstream persistence failed", err)
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "Internal error", err)
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// decode reads a JSON body into dst and validates it. An empty body decodes
// to the zero value.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &decodeError{err: err}
	}
	return h.validate.Struct(dst)
}

func (h *Handler) weekKey(year, week int) forecast.WeekKey {
	if year == 0 {
		year = h.App.Engine.CurrentWeek().Year
	}
	return forecast.WeekKey{Year: year, Week: week}
}

func (h *Handler) variantDTO(v forecast.Variant) VariantDTO {
	return VariantDTO{
		Variant:     v,
		Dirty:       h.App.Outbox.IsDirty(v.VariantID),
		HasSnapshot: h.App.Ledgers.Snapshots.Has(v.VariantID),
	}
}

func variantParam(r *http.Request) forecast.VariantID {
	return forecast.VariantID(chi.URLParam(r, "variantId"))
}

func reorderParams(r *http.Request) (forecast.WeekKey, int, error) {
	var vals [3]int
	for i, name := range []string{"year", "week", "index"} {
		n, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			return forecast.WeekKey{}, 0, &decodeError{err: fmt.Errorf("path parameter %s: %w", name, err)}
		}
		vals[i] = n
	}
	return forecast.WeekKey{Year: vals[0], Week: vals[1]}, vals[2], nil
}
