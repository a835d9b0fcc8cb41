package dto

import (
	"time"

	"github.com/google/uuid"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"

// GenerateInvoicesRequest asks for the invoices of one month.
// Async hands the run to the job scheduler instead of waiting for it.
type GenerateInvoicesRequest struct {
	Year       int     `json:"year" binding:"required,min=2000,max=2100"`
	Month      int     `json:"month" binding:"required,min=1,max=12"`
	LandlordID *string `json:"landlord_id" binding:"omitempty,uuid"`
	Async      bool    `json:"async"`
}

// ListInvoicesRequest holds the query parameters of the invoice list
type ListInvoicesRequest struct {
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PageSize   int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy    string `form:"order_by"`
	OrderDir   string `form:"order_dir" binding:"omitempty,oneof=asc desc ASC DESC"`
	LandlordID string `form:"landlord_id" binding:"omitempty,uuid"`
	TenantID   string `form:"tenant_id" binding:"omitempty,uuid"`
	Status     string `form:"status" binding:"omitempty,oneof=DRAFT ISSUED PARTIALLY_PAID OVERDUE PAID VOID"`
	PeriodFrom string `form:"period_from" binding:"omitempty,datetime=2006-01-02"`
	PeriodTo   string `form:"period_to" binding:"omitempty,datetime=2006-01-02"`
}

// VoidInvoiceRequest carries the reason an invoice is voided
type VoidInvoiceRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// RecordPaymentRequest records funds received from a tenant
type RecordPaymentRequest struct {
	TenantID    string          `json:"tenant_id" binding:"required,uuid"`
	Amount      decimal.Decimal `json:"amount" binding:"decimal_positive"`
	PaymentDate string          `json:"payment_date" binding:"omitempty,datetime=2006-01-02"`
	Method      string          `json:"method" binding:"required,oneof=CASH BANK_TRANSFER CARD MOBILE_MONEY GATEWAY"`
	Reference   string          `json:"reference" binding:"max=100"`
	Status      string          `json:"status" binding:"omitempty,oneof=PENDING COMPLETED FAILED"`
	Notes       string          `json:"notes" binding:"max=1000"`
}

// UpdatePaymentStatusRequest moves a payment to a new status
type UpdatePaymentStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=PENDING COMPLETED FAILED REFUNDED"`
}

// DueDateRequest previews the due date and payment period of a month
type DueDateRequest struct {
	Year   int `form:"year" binding:"required,min=2000,max=2100"`
	Month  int `form:"month" binding:"required,min=1,max=12"`
	DueDay int `form:"due_day" binding:"required,due_day"`
}

// ToFilter converts the query into a repository filter
func (r ListInvoicesRequest) ToFilter() billing.InvoiceFilter {
	filter := billing.InvoiceFilter{}
	filter.Page = r.Page
	if filter.Page == 0 {
		filter.Page = 1
	}
	filter.PageSize = r.PageSize
	if filter.PageSize == 0 {
		filter.PageSize = 20
	}
	filter.OrderBy = r.OrderBy
	filter.OrderDir = r.OrderDir
	filter.LandlordID = parseOptionalUUID(r.LandlordID)
	filter.TenantID = parseOptionalUUID(r.TenantID)
	if r.Status != "" {
		status := billing.InvoiceStatus(r.Status)
		filter.Status = &status
	}
	filter.PeriodFrom = parseOptionalDate(r.PeriodFrom)
	filter.PeriodTo = parseOptionalDate(r.PeriodTo)
	return filter
}

// ToInput converts the request into the service input. Binding has
// already validated the id and date formats.
func (r RecordPaymentRequest) ToInput(now time.Time) appbilling.RecordPaymentInput {
	paymentDate := billing.DateOf(now)
	if d := parseOptionalDate(r.PaymentDate); d != nil {
		paymentDate = *d
	}
	return appbilling.RecordPaymentInput{
		TenantID:    uuid.MustParse(r.TenantID),
		Amount:      r.Amount,
		PaymentDate: paymentDate,
		Method:      billing.PaymentMethod(r.Method),
		Reference:   r.Reference,
		Status:      billing.PaymentStatus(r.Status),
		Notes:       r.Notes,
	}
}

func parseOptionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func parseOptionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

// LineItemResponse is one invoice charge line
type LineItemResponse struct {
	Position    int             `json:"position"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitRate    decimal.Decimal `json:"unit_rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoiceResponse is the API view of an invoice
type InvoiceResponse struct {
	ID                   uuid.UUID          `json:"id"`
	LandlordID           uuid.UUID          `json:"landlord_id"`
	TenantID             uuid.UUID          `json:"tenant_id"`
	UnitID               uuid.UUID          `json:"unit_id"`
	PropertyID           uuid.UUID          `json:"property_id"`
	PeriodStart          string             `json:"period_start"`
	PeriodEnd            string             `json:"period_end"`
	DueDate              string             `json:"due_date"`
	Amount               decimal.Decimal    `json:"amount"`
	OpeningBalance       decimal.Decimal    `json:"opening_balance"`
	AllocatedAmount      decimal.Decimal    `json:"allocated_amount"`
	CreditApplied        decimal.Decimal    `json:"credit_applied"`
	CarriedForwardAmount decimal.Decimal    `json:"carried_forward_amount"`
	CarriedForwardTo     *uuid.UUID         `json:"carried_forward_to,omitempty"`
	Balance              decimal.Decimal    `json:"balance"`
	Status               string             `json:"status"`
	LineItems            []LineItemResponse `json:"line_items"`
	IssuedAt             *time.Time         `json:"issued_at,omitempty"`
	PaidAt               *time.Time         `json:"paid_at,omitempty"`
	VoidedAt             *time.Time         `json:"voided_at,omitempty"`
	VoidReason           string             `json:"void_reason,omitempty"`
	Version              int                `json:"version"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// NewInvoiceResponse converts an invoice for the API
func NewInvoiceResponse(inv *billing.Invoice) InvoiceResponse {
	items := make([]LineItemResponse, len(inv.LineItems))
	for i, item := range inv.LineItems {
		items[i] = LineItemResponse{
			Position:    item.Position,
			Type:        string(item.Type),
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitRate:    item.UnitRate,
			Amount:      item.Amount,
		}
	}
	return InvoiceResponse{
		ID:                   inv.ID,
		LandlordID:           inv.LandlordID,
		TenantID:             inv.TenantID,
		UnitID:               inv.UnitID,
		PropertyID:           inv.PropertyID,
		PeriodStart:          inv.PeriodStart.Format(DateLayout),
		PeriodEnd:            inv.PeriodEnd.Format(DateLayout),
		DueDate:              inv.DueDate.Format(DateLayout),
		Amount:               inv.Amount,
		OpeningBalance:       inv.OpeningBalance,
		AllocatedAmount:      inv.AllocatedAmount,
		CreditApplied:        inv.CreditApplied,
		CarriedForwardAmount: inv.CarriedForwardAmount,
		CarriedForwardTo:     inv.CarriedForwardTo,
		Balance:              inv.Balance,
		Status:               string(inv.Status),
		LineItems:            items,
		IssuedAt:             inv.IssuedAt,
		PaidAt:               inv.PaidAt,
		VoidedAt:             inv.VoidedAt,
		VoidReason:           inv.VoidReason,
		Version:              inv.Version,
		CreatedAt:            inv.CreatedAt,
		UpdatedAt:            inv.UpdatedAt,
	}
}

// NewInvoiceListResponse converts a page of invoices
func NewInvoiceListResponse(invoices []*billing.Invoice) []InvoiceResponse {
	out := make([]InvoiceResponse, len(invoices))
	for i, inv := range invoices {
		out[i] = NewInvoiceResponse(inv)
	}
	return out
}

// RecalculateResponse reports whether recalculation changed the invoice
type RecalculateResponse struct {
	Invoice InvoiceResponse `json:"invoice"`
	Changed bool            `json:"changed"`
}

// AllocationResponse is the part of a payment applied to one invoice
type AllocationResponse struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	AllocatedAt time.Time       `json:"allocated_at"`
}

// PaymentResponse is the API view of a payment
type PaymentResponse struct {
	ID                   uuid.UUID            `json:"id"`
	LandlordID           uuid.UUID            `json:"landlord_id"`
	TenantID             uuid.UUID            `json:"tenant_id"`
	Amount               decimal.Decimal      `json:"amount"`
	PaymentDate          string               `json:"payment_date"`
	Method               string               `json:"method"`
	TransactionReference string               `json:"transaction_reference"`
	Status               string               `json:"status"`
	UnappliedAmount      decimal.Decimal      `json:"unapplied_amount"`
	Allocations          []AllocationResponse `json:"allocations"`
	AllocatedAt          *time.Time           `json:"allocated_at,omitempty"`
	Notes                string               `json:"notes,omitempty"`
	Version              int                  `json:"version"`
	CreatedAt            time.Time            `json:"created_at"`
}

// NewPaymentResponse converts a payment for the API
func NewPaymentResponse(p *billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                   p.ID,
		LandlordID:           p.LandlordID,
		TenantID:             p.TenantID,
		Amount:               p.Amount,
		PaymentDate:          p.PaymentDate.Format(DateLayout),
		Method:               string(p.Method),
		TransactionReference: p.TransactionReference,
		Status:               string(p.Status),
		UnappliedAmount:      p.UnappliedAmount,
		Allocations:          newAllocationResponses(p.Allocations),
		AllocatedAt:          p.AllocatedAt,
		Notes:                p.Notes,
		Version:              p.Version,
		CreatedAt:            p.CreatedAt,
	}
}

func newAllocationResponses(allocs []billing.PaymentAllocation) []AllocationResponse {
	out := make([]AllocationResponse, len(allocs))
	for i, a := range allocs {
		out[i] = AllocationResponse{
			ID:          a.ID,
			InvoiceID:   a.InvoiceID,
			Amount:      a.Amount,
			AllocatedAt: a.AllocatedAt,
		}
	}
	return out
}

// RefundResponse summarizes the reversal of a refunded payment
type RefundResponse struct {
	Reversed      []AllocationResponse `json:"reversed"`
	CreditReduced decimal.Decimal      `json:"credit_reduced"`
	Shortfall     decimal.Decimal      `json:"shortfall"`
}

// PaymentResultResponse is a payment plus what happened to it
type PaymentResultResponse struct {
	Payment          PaymentResponse  `json:"payment"`
	Duplicate        bool             `json:"duplicate"`
	AlreadyAllocated bool             `json:"already_allocated,omitempty"`
	Unapplied        *decimal.Decimal `json:"unapplied,omitempty"`
	Refund           *RefundResponse  `json:"refund,omitempty"`
}

// NewPaymentResultResponse converts a service payment result
func NewPaymentResultResponse(r *appbilling.PaymentResult) PaymentResultResponse {
	resp := PaymentResultResponse{
		Payment:   NewPaymentResponse(r.Payment),
		Duplicate: r.Duplicate,
	}
	if r.Allocation != nil {
		unapplied := r.Allocation.Unapplied
		resp.Unapplied = &unapplied
		resp.AlreadyAllocated = r.Allocation.AlreadyAllocated
	}
	if r.Refund != nil {
		resp.Refund = &RefundResponse{
			Reversed:      newAllocationResponses(r.Refund.Reversed),
			CreditReduced: r.Refund.CreditReduced,
			Shortfall:     r.Refund.Shortfall,
		}
	}
	return resp
}

// JobResponse describes a scheduled billing job
type JobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Type   string    `json:"type"`
	Status string    `json:"status"`
}

// DueDateResponse is the resolved due date of a month and its payment period
type DueDateResponse struct {
	DueDate     string `json:"due_date"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// WebhookResponse acknowledges a payment gateway callback
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Message   string `json:"message,omitempty"`
}
