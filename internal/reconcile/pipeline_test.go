package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nwalia/rentdesk/internal/extract"
	"github.com/nwalia/rentdesk/internal/models"
	"github.com/nwalia/rentdesk/internal/notify"
	"github.com/nwalia/rentdesk/internal/repository"
	"github.com/nwalia/rentdesk/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeExtractor returns a scripted result and remembers whether it ran.
type fakeExtractor struct {
	result *extract.Result
	called bool
}

func (f *fakeExtractor) Extract(ctx context.Context, subject, body string) *extract.Result {
	f.called = true
	return f.result
}

// fakeNotifier captures notices on a channel; the pipeline dispatches them
// from a goroutine.
type fakeNotifier struct {
	notices chan notify.Notice
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notices: make(chan notify.Notice, 4)}
}

func (f *fakeNotifier) PaymentReceived(ctx context.Context, notice notify.Notice) {
	f.notices <- notice
}

type testEnv struct {
	db           *database.DB
	intakeRepo   *repository.IntakeRepository
	invoiceRepo  *repository.InvoiceRepository
	paymentRepo  *repository.PaymentRepository
	tenancyRepo  *repository.TenancyRepository
	activityRepo *repository.ActivityRepository
	ledger       *Ledger
	notifier     *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations("../../migrations"))

	env := &testEnv{
		db:           db,
		intakeRepo:   repository.NewIntakeRepository(db.DB, logger),
		invoiceRepo:  repository.NewInvoiceRepository(db.DB, logger),
		paymentRepo:  repository.NewPaymentRepository(db.DB, logger),
		tenancyRepo:  repository.NewTenancyRepository(db.DB, logger),
		activityRepo: repository.NewActivityRepository(db.DB, logger),
		notifier:     newFakeNotifier(),
	}
	env.ledger = NewLedger(db, env.intakeRepo, env.invoiceRepo, env.paymentRepo, logger)
	return env
}

func (env *testEnv) pipeline(extractor extract.Extractor) *Pipeline {
	return NewPipeline(
		env.intakeRepo,
		env.invoiceRepo,
		env.tenancyRepo,
		env.activityRepo,
		extractor,
		env.ledger,
		env.notifier,
		zap.NewNop(),
	)
}

func (env *testEnv) seedTenant(t *testing.T, userID int64, name string, unitID int64) {
	t.Helper()
	_, err := env.db.Exec(`
		INSERT INTO tenancies (user_id, name, email, unit_id, unit_label, building_name, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, userID, name, name+"@example.com", unitID, "Unit 2B", "Maple Court")
	require.NoError(t, err)
}

func (env *testEnv) seedInvoice(t *testing.T, unitID, tenancyID int64, status string, amountCents int64, due string) int64 {
	t.Helper()
	dueDate, err := time.Parse("2006-01-02", due)
	require.NoError(t, err)
	res, err := env.db.Exec(`
		INSERT INTO invoices (unit_id, tenancy_id, status, amount_cents, period_month, due_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`, unitID, tenancyID, status, amountCents, due[:7], dueDate)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (env *testEnv) paymentCount(t *testing.T) int {
	t.Helper()
	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM payments").Scan(&count))
	return count
}

func (env *testEnv) intakeCount(t *testing.T) int {
	t.Helper()
	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM intake_records").Scan(&count))
	return count
}

func etransferRecord() *models.IntakeRecord {
	return &models.IntakeRecord{
		Subject: "INTERAC e-Transfer",
		Body:    "INTERAC e-Transfer: John Smith sent you $950.00 (CAD). Reference number: INT123456.",
		From:    "notify@payments.example.com",
		Headers: map[string]string{"x-forwarded-for": "mail.example.com"},
		Source:  "203.0.113.9",
	}
}

func acceptedExtraction() *extract.Result {
	sender := "John Smith"
	amount := int64(95000)
	ref := "INT123456"
	return &extract.Result{
		SenderName:      &sender,
		AmountCents:     &amount,
		ReferenceNumber: &ref,
		Confidence:      0.92,
	}
}

func TestPipeline_EndToEndReconciled(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	overdueID := env.seedInvoice(t, 42, 7, models.InvoiceStatusOverdue, 95000, "2026-06-01")
	env.seedInvoice(t, 42, 7, models.InvoiceStatusOpen, 95000, "2026-07-01")

	p := env.pipeline(&fakeExtractor{result: acceptedExtraction()})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeReconciled, outcome.Status)
	require.NotNil(t, outcome.InvoiceID)
	assert.Equal(t, overdueID, *outcome.InvoiceID, "oldest due date settles first")
	assert.Equal(t, int64(95000), *outcome.AmountCents)

	invoice, err := env.invoiceRepo.GetByID(overdueID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, PaymentMethodETransfer, invoice.PaymentMethod)

	assert.Equal(t, 1, env.paymentCount(t))

	record, err := env.intakeRepo.GetByID(outcome.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid.String(), record.Status)
	assert.NotNil(t, record.ReconciledAt)
	assert.NotNil(t, record.ParsedAt)
	require.NotNil(t, record.MatchedTenantID)
	assert.Equal(t, int64(7), *record.MatchedTenantID)

	select {
	case notice := <-env.notifier.notices:
		assert.Equal(t, "John Smith", notice.TenantName)
		assert.Equal(t, int64(95000), notice.AmountCents)
		assert.Equal(t, "2026-06", notice.PeriodMonth)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a payment-received notice")
	}
}

func TestPipeline_ShortBodySkipsExtractor(t *testing.T) {
	env := newTestEnv(t)
	extractor := &fakeExtractor{result: acceptedExtraction()}
	p := env.pipeline(extractor)

	record := etransferRecord()
	record.Body = "ping"

	outcome, err := p.Process(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, OutcomeVerificationLogged, outcome.Status)
	assert.False(t, extractor.called, "extractor must not run for short bodies")

	stored, err := env.intakeRepo.GetByID(outcome.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusManualReview.String(), stored.Status)
	assert.Contains(t, stored.ReconciliationNote, "verification ping")
}

func TestPipeline_ExtractorUnavailable(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(&fakeExtractor{result: &extract.Result{Err: "request timed out"}})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeManualReview, outcome.Status)

	stored, err := env.intakeRepo.GetByID(outcome.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusManualReview.String(), stored.Status)
	require.NotNil(t, stored.ParseError)
	assert.Contains(t, *stored.ParseError, "timed out")
}

func TestPipeline_LowConfidenceRoutesToReview(t *testing.T) {
	env := newTestEnv(t)
	result := acceptedExtraction()
	result.Confidence = 0.3
	p := env.pipeline(&fakeExtractor{result: result})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeManualReview, outcome.Status)
	assert.Contains(t, outcome.Note, "confidence")
}

func TestPipeline_MissingFieldsNamedInNote(t *testing.T) {
	env := newTestEnv(t)
	result := acceptedExtraction()
	result.AmountCents = nil
	p := env.pipeline(&fakeExtractor{result: result})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeManualReview, outcome.Status)
	assert.Contains(t, outcome.Note, "amount")
}

func TestPipeline_DuplicateReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	env.seedInvoice(t, 42, 7, models.InvoiceStatusOverdue, 95000, "2026-06-01")

	p := env.pipeline(&fakeExtractor{result: acceptedExtraction()})

	first, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)
	require.Equal(t, OutcomeReconciled, first.Status)

	second, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicateRejected, second.Status)
	assert.Contains(t, second.Note, "INT123456")

	// Replay leaves a new intake record but never a second payment.
	assert.Equal(t, 2, env.intakeCount(t))
	assert.Equal(t, 1, env.paymentCount(t))

	replayed, err := env.intakeRepo.GetByID(second.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed.String(), replayed.Status)
}

func TestPipeline_NoTenantMatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "Maria Garcia", 42)

	p := env.pipeline(&fakeExtractor{result: acceptedExtraction()})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoTenantMatch, outcome.Status)

	stored, err := env.intakeRepo.GetByID(outcome.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusManualReview.String(), stored.Status)
}

func TestPipeline_AmbiguousTenantNeverGuessed(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	env.seedTenant(t, 8, "John Smith", 43)

	p := env.pipeline(&fakeExtractor{result: acceptedExtraction()})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoTenantMatch, outcome.Status)
	assert.Equal(t, 0, env.paymentCount(t))
}

func TestPipeline_AmountMismatchListsPending(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	env.seedInvoice(t, 42, 7, models.InvoiceStatusOverdue, 120000, "2026-06-01")
	env.seedInvoice(t, 42, 7, models.InvoiceStatusOpen, 110000, "2026-07-01")
	env.seedInvoice(t, 42, 7, models.InvoiceStatusPaid, 95000, "2026-05-01")

	p := env.pipeline(&fakeExtractor{result: acceptedExtraction()})

	outcome, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoInvoiceMatch, outcome.Status)
	require.NotNil(t, outcome.TenantUserID)
	assert.Equal(t, int64(7), *outcome.TenantUserID)

	// The two open/overdue invoices surface for manual review; the paid one
	// does not.
	require.Len(t, outcome.PendingInvoices, 2)
	assert.Equal(t, int64(120000), outcome.PendingInvoices[0].AmountCents)
	assert.Equal(t, int64(110000), outcome.PendingInvoices[1].AmountCents)

	stored, err := env.intakeRepo.GetByID(outcome.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusManualReview.String(), stored.Status)
	require.NotNil(t, stored.MatchedTenantID)
	assert.Equal(t, int64(7), *stored.MatchedTenantID)
}

func TestPipeline_ManualMatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	invoiceID := env.seedInvoice(t, 42, 7, models.InvoiceStatusOverdue, 120000, "2026-06-01")

	p := env.pipeline(&fakeExtractor{result: acceptedExtraction()})

	// Amount mismatch parks the record in MANUAL_REVIEW.
	reviewed, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)
	require.Equal(t, OutcomeNoInvoiceMatch, reviewed.Status)

	outcome, err := p.ManualMatch(context.Background(), reviewed.IntakeID, 7, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome.Status)
	assert.Equal(t, 1, env.paymentCount(t))

	// Resolving the same record twice is rejected before the ledger.
	_, err = p.ManualMatch(context.Background(), reviewed.IntakeID, 7, invoiceID)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, 1, env.paymentCount(t))
}

func TestPipeline_ManualMatchValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	paidInvoice := env.seedInvoice(t, 42, 7, models.InvoiceStatusPaid, 95000, "2026-05-01")
	openInvoice := env.seedInvoice(t, 42, 7, models.InvoiceStatusOpen, 95000, "2026-06-01")

	p := env.pipeline(&fakeExtractor{result: &extract.Result{Err: "provider down"}})

	reviewed, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)
	require.Equal(t, OutcomeManualReview, reviewed.Status)

	_, err = p.ManualMatch(context.Background(), reviewed.IntakeID, 7, paidInvoice)
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	_, err = p.ManualMatch(context.Background(), reviewed.IntakeID, 99, openInvoice)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.ManualMatch(context.Background(), 9999, 7, openInvoice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPipeline_Dismiss(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(&fakeExtractor{result: &extract.Result{Err: "provider down"}})

	reviewed, err := p.Process(context.Background(), etransferRecord())
	require.NoError(t, err)

	require.NoError(t, p.Dismiss(reviewed.IntakeID, "spam forward"))

	stored, err := env.intakeRepo.GetByID(reviewed.IntakeID)
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed.String(), stored.Status)
	assert.Contains(t, stored.ReconciliationNote, "spam forward")

	// Dismissed is terminal.
	err = p.Dismiss(reviewed.IntakeID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLedger_ConcurrentSettleSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, 7, "John Smith", 42)
	invoiceID := env.seedInvoice(t, 42, 7, models.InvoiceStatusOpen, 95000, "2026-06-01")

	tenant, err := env.tenancyRepo.GetByUserID(7)
	require.NoError(t, err)
	invoice, err := env.invoiceRepo.GetByID(invoiceID)
	require.NoError(t, err)

	makeIntake := func() *models.IntakeRecord {
		record := etransferRecord()
		record.ReceivedAt = time.Now()
		record.Status = StatusReceived.String()
		require.NoError(t, env.intakeRepo.Create(record))
		return record
	}
	first := makeIntake()
	second := makeIntake()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, record := range []*models.IntakeRecord{first, second} {
		wg.Add(1)
		go func(i int, intakeID int64) {
			defer wg.Done()
			_, errs[i] = env.ledger.Settle(intakeID, tenant, invoice, PaymentMethodETransfer, "", "settled")
		}(i, record.ID)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case assert.ErrorIs(t, err, ErrLedgerConflict):
			losers++
		}
	}
	assert.Equal(t, 1, winners, "exactly one settle must win")
	assert.Equal(t, 1, losers, "the other must lose gracefully")

	assert.Equal(t, 1, env.paymentCount(t))

	settled, err := env.invoiceRepo.GetByID(invoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, settled.Status)
}
