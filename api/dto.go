/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types from the
  forecast package (Variant, WeekForecast, WeekSpan) already carry their
  wire tags and are returned as-is; the types here cover request bodies and
  responses that combine several pieces of state.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags for shape checks (ranges,
  required fields). Domain rules (past week, year lock, prior-year sales)
  are enforced by the dashboard package and reported as invalid edits.

SEE ALSO:
  - handlers.go: Uses these types
  - dashboard/bulk.go: BulkEdit, the domain form of BulkEditRequest
*/
package api

import (
	"time"

	"github.com/warp/forecast-engine/dashboard"
	"github.com/warp/forecast-engine/forecast"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CellEditRequest edits one forecast cell. Year defaults to the current year.
type CellEditRequest struct {
	Year  int  `json:"year" validate:"omitempty,gte=1970,lte=9999"`
	Week  int  `json:"week" validate:"required,min=1,max=53"`
	Value *int `json:"value" validate:"required"`
}

type DeliveryTimeRequest struct {
	DeliveryTime *int `json:"deliveryTime" validate:"required,min=0,max=365"`
}

type ReorderRequest struct {
	Year   int    `json:"year" validate:"omitempty,gte=1970,lte=9999"`
	Week   int    `json:"week" validate:"required,min=1,max=53"`
	Amount int    `json:"amount" validate:"required,gt=0"`
	Status string `json:"status" validate:"omitempty,oneof=- HPL MA VA S"`
}

type ReorderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=- HPL MA VA S"`
}

// RevertRequest names the cell to revert; the field comes from the path.
type RevertRequest struct {
	Year int `json:"year" validate:"omitempty,gte=1970,lte=9999"`
	Week int `json:"week" validate:"required,min=1,max=53"`
}

// BulkEditRequest applies values over a week range. An empty VariantIDs
// falls back to the current selection.
type BulkEditRequest struct {
	VariantIDs    []string `json:"variantIds" validate:"omitempty,dive,required"`
	Year          int      `json:"year" validate:"omitempty,gte=1970,lte=9999"`
	FromWeek      int      `json:"fromWeek" validate:"required,min=1,max=53"`
	ToWeek        int      `json:"toWeek" validate:"required,min=1,max=53,gtefield=FromWeek"`
	GrowthRate    *int     `json:"growthRate"`
	ExpectedSales *int     `json:"expectedSales" validate:"omitempty,min=0"`
	MinStock      *int     `json:"minStock" validate:"omitempty,min=0"`
}

func (r BulkEditRequest) toDomain(ids []forecast.VariantID) dashboard.BulkEdit {
	return dashboard.BulkEdit{
		VariantIDs:    ids,
		Year:          r.Year,
		FromWeek:      r.FromWeek,
		ToWeek:        r.ToWeek,
		GrowthRate:    r.GrowthRate,
		ExpectedSales: r.ExpectedSales,
		MinStock:      r.MinStock,
	}
}

// BulkRevertRequest restores snapshots. An empty VariantIDs falls back to
// the current selection.
type BulkRevertRequest struct {
	VariantIDs []string `json:"variantIds" validate:"omitempty,dive,required"`
}

// FetchRequest starts a batched fetch. With Wait the response is sent after
// the last batch has been applied.
type FetchRequest struct {
	Page            int      `json:"page" validate:"omitempty,min=1"`
	Year            int      `json:"year" validate:"omitempty,gte=1970,lte=9999"`
	Search          string   `json:"search"`
	Products        []string `json:"products"`
	Providers       []string `json:"selectedProviders"`
	StatusFilters   []string `json:"statusFilters" validate:"omitempty,dive,oneof=good warning critical"`
	InventoryStatus []string `json:"inventoryStatus"`
	Wait            bool     `json:"wait"`
}

func (r FetchRequest) toQuery() dashboard.Query {
	return dashboard.Query{
		Page:            r.Page,
		Year:            r.Year,
		Search:          r.Search,
		Products:        r.Products,
		Providers:       r.Providers,
		StatusFilters:   r.StatusFilters,
		InventoryStatus: r.InventoryStatus,
	}
}

// SelectionRequest changes the selection. Toggle flips one variant, All
// selects every loaded variant, VariantIDs adds to the selection.
type SelectionRequest struct {
	Toggle     string   `json:"toggle"`
	All        bool     `json:"all"`
	VariantIDs []string `json:"variantIds" validate:"omitempty,dive,required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ForecastResponse is the current dashboard page.
type ForecastResponse struct {
	Products   []forecast.Variant         `json:"products"`
	Pagination dashboard.Pagination       `json:"pagination"`
	Summary    dashboard.InventorySummary `json:"inventoryStatus"`
	Generation uint64                     `json:"generation"`
}

// VariantDTO is a variant plus its local bookkeeping.
type VariantDTO struct {
	forecast.Variant
	Dirty       bool `json:"dirty"`
	HasSnapshot bool `json:"hasSnapshot"`
}

type RevertResponse struct {
	Variant VariantDTO `json:"variant"`
	Changed bool       `json:"changed"`
}

type FetchResponse struct {
	Generation uint64                 `json:"generation"`
	Started    bool                   `json:"started"`
	Result     *dashboard.FetchResult `json:"result,omitempty"`
}

// LedgerFieldDTO lists the changed weeks of one field with their originals.
type LedgerFieldDTO struct {
	ChangedWeeks []forecast.WeekKey       `json:"changedWeeks"`
	Originals    map[forecast.WeekKey]int `json:"originalValues"`
}

type LedgerDTO struct {
	VariantID   forecast.VariantID                `json:"variantId"`
	Fields      map[forecast.Field]LedgerFieldDTO `json:"fields"`
	HasSnapshot bool                              `json:"hasSnapshot"`
}

type SelectionResponse struct {
	Selected []forecast.VariantID `json:"selected"`
}

type CalendarResponse struct {
	Year        int                 `json:"year"`
	CurrentWeek forecast.WeekKey    `json:"currentWeek"`
	Weeks       []forecast.WeekSpan `json:"weeks"`
}

// AuditEntryDTO represents an audit entry in API responses.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	VariantID string         `json:"variantId"`
	Week      string         `json:"week,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type OutboxResponse struct {
	Dirty []forecast.VariantID `json:"dirty"`
}

type RetryResponse struct {
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
