package billing

import (
	"context"

	"github.com/rentbill/backend/internal/domain/billing"
)

// TransactionScope runs a unit of work inside one database transaction.
// Repositories handed to fn share that transaction; returning an error rolls
// everything back.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the billing repositories bound to the
// current transaction.
type TransactionalRepositories interface {
	TenantRepo() billing.TenantRepository
	InvoiceRepo() billing.InvoiceRepository
	PaymentRepo() billing.PaymentRepository
}

// NoOpTransactionScope runs fn directly against the given repositories.
// It is meant for tests and for stores without transaction support.
type NoOpTransactionScope struct {
	tenantRepo  billing.TenantRepository
	invoiceRepo billing.InvoiceRepository
	paymentRepo billing.PaymentRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(
	tenantRepo billing.TenantRepository,
	invoiceRepo billing.InvoiceRepository,
	paymentRepo billing.PaymentRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		tenantRepo:  tenantRepo,
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
	}
}

// Execute runs the function without a real transaction.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// TenantRepo returns the tenant repository.
func (s *NoOpTransactionScope) TenantRepo() billing.TenantRepository {
	return s.tenantRepo
}

// InvoiceRepo returns the invoice repository.
func (s *NoOpTransactionScope) InvoiceRepo() billing.InvoiceRepository {
	return s.invoiceRepo
}

// PaymentRepo returns the payment repository.
func (s *NoOpTransactionScope) PaymentRepo() billing.PaymentRepository {
	return s.paymentRepo
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
