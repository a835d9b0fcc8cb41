package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/application/billing"
	domain "github.com/rentbill/backend/internal/domain/billing"
	"github.com/rentbill/backend/internal/domain/shared"
	"github.com/rentbill/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// every pooled connection would get its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.TenantModel{},
		&models.InvoiceModel{},
		&models.InvoiceLineItemModel{},
		&models.PaymentModel{},
		&models.PaymentAllocationModel{},
		&models.UtilityMeterReadingModel{},
		&models.RecurringChargeModel{},
	))
	// AutoMigrate cannot express the partial index the migrations create
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX uq_invoices_tenant_period ON invoices (tenant_id, period_start) WHERE status <> 'VOID'`).Error)
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX uq_payments_landlord_reference ON payments (landlord_id, transaction_reference)`).Error)
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTenant(t *testing.T, db *gorm.DB, landlordID uuid.UUID) *domain.Tenant {
	t.Helper()
	tenant, err := domain.NewTenant(landlordID, uuid.New(), uuid.New(), "Ada Lovelace", dec("1200"), 5, date(2025, 1, 1))
	require.NoError(t, err)
	require.NoError(t, NewGormTenantRepository(db).Create(context.Background(), tenant))
	return tenant
}

func newMonthlyInvoice(t *testing.T, tenant *domain.Tenant, month time.Month, items ...domain.InvoiceLineItem) *domain.Invoice {
	t.Helper()
	if len(items) == 0 {
		items = []domain.InvoiceLineItem{
			domain.NewLineItem(domain.LineItemTypeRent, "Rent", decimal.NewFromInt(1), tenant.MonthlyRent),
		}
	}
	start := date(2026, month, 1)
	inv, err := domain.NewInvoice(tenant, start, start.AddDate(0, 1, -1), date(2026, month, 5), items,
		domain.InvoiceStatusIssued, start)
	require.NoError(t, err)
	return inv
}

func TestGormTenantRepository(t *testing.T) {
	ctx := context.Background()
	db := setupBillingTestDB(t)
	repo := NewGormTenantRepository(db)
	landlordID := uuid.New()

	t.Run("round trips a tenant with its late fee policy", func(t *testing.T) {
		tenant, err := domain.NewTenant(landlordID, uuid.New(), uuid.New(), "Grace Hopper", dec("950.50"), 31, date(2025, 6, 15))
		require.NoError(t, err)
		pct := dec("5")
		require.NoError(t, tenant.SetLateFeePolicy(domain.LateFeePolicy{
			GracePeriodDays: 3,
			FeeType:         domain.LateFeeTypePercentage,
			FeePercentage:   &pct,
		}))
		require.NoError(t, repo.Create(ctx, tenant))

		found, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "Grace Hopper", found.Name)
		assert.True(t, found.MonthlyRent.Equal(dec("950.50")))
		assert.Equal(t, 31, found.RentDueDay)
		assert.Equal(t, date(2025, 6, 15), found.LeaseStart)
		assert.Equal(t, 3, found.LateFeePolicy.GracePeriodDays)
		assert.Equal(t, domain.LateFeeTypePercentage, found.LateFeePolicy.FeeType)
		require.NotNil(t, found.LateFeePolicy.FeePercentage)
		assert.True(t, found.LateFeePolicy.FeePercentage.Equal(pct))
		assert.Nil(t, found.LateFeePolicy.FeeAmount)
		assert.Equal(t, 1, found.Version)
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("finds active tenants of one landlord", func(t *testing.T) {
		other := uuid.New()
		mine := createTenant(t, db, other)
		ended := createTenant(t, db, other)
		require.NoError(t, ended.Terminate(date(2025, 12, 31)))
		require.NoError(t, repo.SaveWithLock(ctx, ended))

		tenants, err := repo.FindActive(ctx, &other)
		require.NoError(t, err)
		require.Len(t, tenants, 1)
		assert.Equal(t, mine.ID, tenants[0].ID)

		all, err := repo.FindActive(ctx, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 2)
	})

	t.Run("versioned save advances the version and rejects stale copies", func(t *testing.T) {
		tenant := createTenant(t, db, landlordID)
		stale, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)

		require.NoError(t, tenant.AddCredit(dec("150")))
		require.NoError(t, repo.SaveWithLock(ctx, tenant))
		assert.Equal(t, 2, tenant.Version)

		reloaded, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.CreditBalance.Equal(dec("150")))
		assert.Equal(t, 2, reloaded.Version)

		require.NoError(t, stale.AddCredit(dec("10")))
		err = repo.SaveWithLock(ctx, stale)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Equal(t, 1, stale.Version)
	})
}

func TestGormInvoiceRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an invoice with ordered line items", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())

		inv := newMonthlyInvoice(t, tenant, time.March,
			domain.NewLineItem(domain.LineItemTypeRent, "Rent", decimal.NewFromInt(1), dec("1200")),
			domain.NewLineItem(domain.LineItemTypeUtility, "Water", dec("12"), dec("2.5")),
		)
		require.NoError(t, repo.Create(ctx, inv))

		found, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, found.TenantID)
		assert.Equal(t, domain.InvoiceStatusIssued, found.Status)
		assert.True(t, found.Amount.Equal(dec("1230")))
		assert.True(t, found.Balance.Equal(dec("1230")))
		require.Len(t, found.LineItems, 2)
		assert.Equal(t, "Rent", found.LineItems[0].Description)
		assert.Equal(t, 1, found.LineItems[0].Position)
		assert.Equal(t, "Water", found.LineItems[1].Description)
		assert.True(t, found.LineItems[1].Amount.Equal(dec("30")))
		assert.Equal(t, date(2026, 3, 5), found.DueDate)
	})

	t.Run("rejects a second live invoice for the same period", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())

		require.NoError(t, repo.Create(ctx, newMonthlyInvoice(t, tenant, time.March)))
		err := repo.Create(ctx, newMonthlyInvoice(t, tenant, time.March))
		assert.ErrorIs(t, err, shared.ErrDuplicate)
	})

	t.Run("void invoices free the period", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())

		first := newMonthlyInvoice(t, tenant, time.March)
		require.NoError(t, repo.Create(ctx, first))
		_, err := first.Void("issued twice", date(2026, 3, 2))
		require.NoError(t, err)
		require.NoError(t, repo.SaveWithLock(ctx, first))

		_, err = repo.FindByTenantAndPeriod(ctx, tenant.ID, date(2026, 3, 1))
		assert.ErrorIs(t, err, shared.ErrNotFound)

		second := newMonthlyInvoice(t, tenant, time.March)
		require.NoError(t, repo.Create(ctx, second))

		found, err := repo.FindByTenantAndPeriod(ctx, tenant.ID, date(2026, 3, 1))
		require.NoError(t, err)
		assert.Equal(t, second.ID, found.ID)
	})

	t.Run("finds the latest prior non-void invoice", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())

		jan := newMonthlyInvoice(t, tenant, time.January)
		feb := newMonthlyInvoice(t, tenant, time.February)
		require.NoError(t, repo.Create(ctx, jan))
		require.NoError(t, repo.Create(ctx, feb))

		prior, err := repo.FindPrior(ctx, tenant.ID, date(2026, 3, 1))
		require.NoError(t, err)
		assert.Equal(t, feb.ID, prior.ID)

		_, err = feb.Void("wrong amount", date(2026, 2, 3))
		require.NoError(t, err)
		require.NoError(t, repo.SaveWithLock(ctx, feb))

		prior, err = repo.FindPrior(ctx, tenant.ID, date(2026, 3, 1))
		require.NoError(t, err)
		assert.Equal(t, jan.ID, prior.ID)

		_, err = repo.FindPrior(ctx, tenant.ID, date(2026, 1, 1))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("lists outstanding invoices oldest due date first", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())

		feb := newMonthlyInvoice(t, tenant, time.February)
		jan := newMonthlyInvoice(t, tenant, time.January)
		mar := newMonthlyInvoice(t, tenant, time.March)
		for _, inv := range []*domain.Invoice{feb, jan, mar} {
			require.NoError(t, repo.Create(ctx, inv))
		}
		require.NoError(t, mar.ApplyAllocation(dec("1200"), date(2026, 3, 2)))
		require.Equal(t, domain.InvoiceStatusPaid, mar.Status)
		require.NoError(t, repo.SaveWithLock(ctx, mar))

		outstanding, err := repo.FindOutstandingByTenant(ctx, tenant.ID)
		require.NoError(t, err)
		require.Len(t, outstanding, 2)
		assert.Equal(t, jan.ID, outstanding[0].ID)
		assert.Equal(t, feb.ID, outstanding[1].ID)
	})

	t.Run("sweep candidates are issued or partially paid and past due", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())

		jan := newMonthlyInvoice(t, tenant, time.January)
		feb := newMonthlyInvoice(t, tenant, time.February)
		apr := newMonthlyInvoice(t, tenant, time.April)
		for _, inv := range []*domain.Invoice{jan, feb, apr} {
			require.NoError(t, repo.Create(ctx, inv))
		}
		require.NoError(t, feb.ApplyAllocation(dec("200"), date(2026, 2, 2)))
		require.NoError(t, repo.SaveWithLock(ctx, feb))

		candidates, err := repo.FindSweepCandidates(ctx, date(2026, 3, 10), 10)
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, jan.ID, candidates[0].ID)
		assert.Equal(t, feb.ID, candidates[1].ID)

		limited, err := repo.FindSweepCandidates(ctx, date(2026, 3, 10), 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("filters and paginates", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		landlordID := uuid.New()
		a := createTenant(t, db, landlordID)
		b := createTenant(t, db, landlordID)
		stranger := createTenant(t, db, uuid.New())

		for _, m := range []time.Month{time.January, time.February, time.March} {
			require.NoError(t, repo.Create(ctx, newMonthlyInvoice(t, a, m)))
		}
		require.NoError(t, repo.Create(ctx, newMonthlyInvoice(t, b, time.January)))
		require.NoError(t, repo.Create(ctx, newMonthlyInvoice(t, stranger, time.January)))

		filter := domain.InvoiceFilter{Filter: shared.DefaultFilter(), LandlordID: &landlordID}
		filter.PageSize = 2
		filter.OrderBy = "period_start"
		filter.OrderDir = "asc"

		page, total, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, page, 2)
		assert.Equal(t, date(2026, 1, 1), page[0].PeriodStart)
		assert.NotEmpty(t, page[0].LineItems)

		filter.TenantID = &a.ID
		from := date(2026, 2, 1)
		filter.PeriodFrom = &from
		filter.Page = 1
		page, total, err = repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, page, 2)

		status := domain.InvoiceStatusPaid
		filter.Status = &status
		page, total, err = repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, page)
	})

	t.Run("versioned save rejects a stale invoice", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormInvoiceRepository(db)
		tenant := createTenant(t, db, uuid.New())
		inv := newMonthlyInvoice(t, tenant, time.March)
		require.NoError(t, repo.Create(ctx, inv))

		stale, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)

		require.NoError(t, inv.ApplyAllocation(dec("500"), date(2026, 3, 2)))
		require.NoError(t, repo.SaveWithLock(ctx, inv))
		assert.Equal(t, 2, inv.Version)

		require.NoError(t, stale.ApplyAllocation(dec("100"), date(2026, 3, 2)))
		assert.ErrorIs(t, repo.SaveWithLock(ctx, stale), shared.ErrConcurrencyConflict)

		found, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, found.AllocatedAmount.Equal(dec("500")))
		assert.Equal(t, domain.InvoiceStatusPartiallyPaid, found.Status)
	})
}

func TestGormPaymentRepository(t *testing.T) {
	ctx := context.Background()

	newPayment := func(t *testing.T, tenant *domain.Tenant, amount, ref string) *domain.Payment {
		t.Helper()
		p, err := domain.NewPayment(tenant.LandlordID, tenant.ID, dec(amount), date(2026, 3, 3),
			domain.PaymentMethodBankTransfer, ref, domain.PaymentStatusCompleted)
		require.NoError(t, err)
		return p
	}

	t.Run("finds payments by id and reference", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormPaymentRepository(db)
		tenant := createTenant(t, db, uuid.New())
		p := newPayment(t, tenant, "800", "BANK-001")
		require.NoError(t, repo.Create(ctx, p))

		byID, err := repo.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "BANK-001", byID.TransactionReference)
		assert.Equal(t, domain.PaymentStatusCompleted, byID.Status)
		assert.False(t, byID.IsAllocated())

		byRef, err := repo.FindByReference(ctx, tenant.LandlordID, "BANK-001")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byRef.ID)

		_, err = repo.FindByReference(ctx, uuid.New(), "BANK-001")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("reference is unique per landlord", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormPaymentRepository(db)
		tenant := createTenant(t, db, uuid.New())
		require.NoError(t, repo.Create(ctx, newPayment(t, tenant, "100", "REF-1")))

		err := repo.Create(ctx, newPayment(t, tenant, "100", "REF-1"))
		assert.ErrorIs(t, err, shared.ErrDuplicate)

		otherLandlord := createTenant(t, db, uuid.New())
		assert.NoError(t, repo.Create(ctx, newPayment(t, otherLandlord, "100", "REF-1")))
	})

	t.Run("saves allocations once and sums only completed payments", func(t *testing.T) {
		db := setupBillingTestDB(t)
		repo := NewGormPaymentRepository(db)
		tenant := createTenant(t, db, uuid.New())
		inv := newMonthlyInvoice(t, tenant, time.March)
		require.NoError(t, NewGormInvoiceRepository(db).Create(ctx, inv))

		first := newPayment(t, tenant, "700", "A")
		second := newPayment(t, tenant, "300", "B")
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		at := date(2026, 3, 3)
		require.NoError(t, first.RecordAllocation([]domain.AllocationResult{{TargetID: inv.ID, Amount: dec("700")}}, decimal.Zero, at))
		require.NoError(t, repo.SaveWithLock(ctx, first))
		// saving again must not duplicate the allocation rows
		require.NoError(t, repo.SaveWithLock(ctx, first))
		assert.Equal(t, 3, first.Version)

		require.NoError(t, second.RecordAllocation([]domain.AllocationResult{{TargetID: inv.ID, Amount: dec("250")}}, dec("50"), at))
		require.NoError(t, repo.SaveWithLock(ctx, second))

		sum, err := repo.SumAllocationsForInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(dec("950")), sum.String())

		_, err = second.TransitionTo(domain.PaymentStatusRefunded)
		require.NoError(t, err)
		require.NoError(t, repo.SaveWithLock(ctx, second))

		sum, err = repo.SumAllocationsForInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(dec("700")), sum.String())

		found, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, found.Allocations, 1)
		assert.True(t, found.IsAllocated())
		assert.True(t, found.Allocations[0].Amount.Equal(dec("700")))

		none, err := repo.SumAllocationsForInvoice(ctx, uuid.New())
		require.NoError(t, err)
		assert.True(t, none.IsZero())
	})
}

func TestGormTransactionScope(t *testing.T) {
	ctx := context.Background()
	db := setupBillingTestDB(t)
	scope := NewGormTransactionScope(db)
	tenant := createTenant(t, db, uuid.New())

	t.Run("commits all repositories together", func(t *testing.T) {
		inv := newMonthlyInvoice(t, tenant, time.March)
		err := scope.Execute(ctx, func(repos billing.TransactionalRepositories) error {
			if err := repos.InvoiceRepo().Create(ctx, inv); err != nil {
				return err
			}
			fresh, err := repos.TenantRepo().FindByID(ctx, tenant.ID)
			if err != nil {
				return err
			}
			if err := fresh.AddCredit(dec("25")); err != nil {
				return err
			}
			return repos.TenantRepo().SaveWithLock(ctx, fresh)
		})
		require.NoError(t, err)

		_, err = NewGormInvoiceRepository(db).FindByID(ctx, inv.ID)
		assert.NoError(t, err)
		reloaded, err := NewGormTenantRepository(db).FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.CreditBalance.Equal(dec("25")))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		inv := newMonthlyInvoice(t, tenant, time.April)
		boom := errors.New("boom")
		err := scope.Execute(ctx, func(repos billing.TransactionalRepositories) error {
			if err := repos.InvoiceRepo().Create(ctx, inv); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = NewGormInvoiceRepository(db).FindByID(ctx, inv.ID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
