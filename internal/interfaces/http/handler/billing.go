package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/scheduler"
	"github.com/rentbill/backend/internal/interfaces/http/dto"
)

// BillingOperations is the part of the billing service the API exposes
type BillingOperations interface {
	GetInvoice(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Invoice, error)
	ListInvoices(ctx context.Context, filter billing.InvoiceFilter, identity appbilling.Identity) (*shared.Paginated[*billing.Invoice], error)
	RecalculateInvoice(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Invoice, bool, error)
	IssueInvoice(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Invoice, error)
	VoidInvoice(ctx context.Context, id uuid.UUID, reason string, identity appbilling.Identity) (*billing.Invoice, error)
	RecordPayment(ctx context.Context, in appbilling.RecordPaymentInput, identity appbilling.Identity) (*appbilling.PaymentResult, error)
	GetPayment(ctx context.Context, id uuid.UUID, identity appbilling.Identity) (*billing.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status billing.PaymentStatus, identity appbilling.Identity) (*appbilling.PaymentResult, error)
}

// InvoiceGenerationRunner runs a monthly generation in the request
type InvoiceGenerationRunner interface {
	GenerateMonthlyInvoices(ctx context.Context, year int, month time.Month, opts ...appbilling.GenerateOption) (*appbilling.GenerationSummary, error)
}

// BillingHandler serves the invoice and payment endpoints
type BillingHandler struct {
	BaseHandler
	service   BillingOperations
	generator InvoiceGenerationRunner
	jobs      scheduler.JobSubmitter
	now       func() time.Time
}

// NewBillingHandler creates a BillingHandler. jobs may be nil, in which
// case asynchronous generation requests run synchronously.
func NewBillingHandler(service BillingOperations, generator InvoiceGenerationRunner, jobs scheduler.JobSubmitter) *BillingHandler {
	return &BillingHandler{
		service:   service,
		generator: generator,
		jobs:      jobs,
		now:       time.Now,
	}
}

// GenerateInvoices handles POST /billing/invoices/generate
func (h *BillingHandler) GenerateInvoices(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var req dto.GenerateInvoicesRequest
	if !h.bindJSON(c, &req) {
		return
	}

	var landlordID *uuid.UUID
	if req.LandlordID != nil {
		id := uuid.MustParse(*req.LandlordID)
		landlordID = &id
	}
	if identity.Role == appbilling.RoleLandlord {
		if landlordID != nil && *landlordID != identity.LandlordID {
			h.Forbidden(c, "Landlords may only generate their own invoices")
			return
		}
		landlordID = &identity.LandlordID
	}
	month := time.Month(req.Month)

	if req.Async && h.jobs != nil {
		job, err := h.jobs.ScheduleGeneration(landlordID, req.Year, month)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Accepted(c, dto.JobResponse{JobID: job.ID, Type: string(job.Type), Status: string(job.Status)})
		return
	}

	var opts []appbilling.GenerateOption
	if landlordID != nil {
		opts = append(opts, appbilling.ForLandlord(*landlordID))
	}
	summary, err := h.generator.GenerateMonthlyInvoices(c.Request.Context(), req.Year, month, opts...)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// ListInvoices handles GET /billing/invoices
func (h *BillingHandler) ListInvoices(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var req dto.ListInvoicesRequest
	if !h.bindQuery(c, &req) {
		return
	}

	page, err := h.service.ListInvoices(c.Request.Context(), req.ToFilter(), identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, dto.NewInvoiceListResponse(page.Items), page.Total, page.Page, page.PageSize)
}

// GetInvoice handles GET /billing/invoices/:id
func (h *BillingHandler) GetInvoice(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inv, err := h.service.GetInvoice(c.Request.Context(), id, identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewInvoiceResponse(inv))
}

// RecalculateInvoice handles POST /billing/invoices/:id/recalculate
func (h *BillingHandler) RecalculateInvoice(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inv, changed, err := h.service.RecalculateInvoice(c.Request.Context(), id, identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.RecalculateResponse{Invoice: dto.NewInvoiceResponse(inv), Changed: changed})
}

// IssueInvoice handles POST /billing/invoices/:id/issue
func (h *BillingHandler) IssueInvoice(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inv, err := h.service.IssueInvoice(c.Request.Context(), id, identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewInvoiceResponse(inv))
}

// VoidInvoice handles POST /billing/invoices/:id/void
func (h *BillingHandler) VoidInvoice(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.VoidInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}

	inv, err := h.service.VoidInvoice(c.Request.Context(), id, req.Reason, identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewInvoiceResponse(inv))
}

// RecordPayment handles POST /billing/payments. A reference that was
// already recorded returns the existing payment with 200 instead of 201.
func (h *BillingHandler) RecordPayment(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	var req dto.RecordPaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.service.RecordPayment(c.Request.Context(), req.ToInput(h.now()), identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := dto.NewPaymentResultResponse(result)
	if result.Duplicate {
		h.Success(c, resp)
		return
	}
	h.Created(c, resp)
}

// GetPayment handles GET /billing/payments/:id
func (h *BillingHandler) GetPayment(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	payment, err := h.service.GetPayment(c.Request.Context(), id, identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPaymentResponse(payment))
}

// UpdatePaymentStatus handles POST /billing/payments/:id/status
func (h *BillingHandler) UpdatePaymentStatus(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req dto.UpdatePaymentStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.service.UpdatePaymentStatus(c.Request.Context(), id, billing.PaymentStatus(req.Status), identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPaymentResultResponse(result))
}

// ResolveDueDate handles GET /billing/due-dates
func (h *BillingHandler) ResolveDueDate(c *gin.Context) {
	var req dto.DueDateRequest
	if !h.bindQuery(c, &req) {
		return
	}

	dueDate, err := billing.CalculateDueDate(req.Year, time.Month(req.Month), req.DueDay)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	start, end := billing.CalculatePaymentPeriod(dueDate)
	h.Success(c, dto.DueDateResponse{
		DueDate:     dueDate.Format(dto.DateLayout),
		PeriodStart: start.Format(dto.DateLayout),
		PeriodEnd:   end.Format(dto.DateLayout),
	})
}
