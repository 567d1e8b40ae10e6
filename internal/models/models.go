package models

import "time"

// Intake statuses. The closed set of values lives in the reconcile package;
// these records just carry the string form that is persisted.
type IntakeRecord struct {
	ID         int64
	ReceivedAt time.Time

	// Raw fields captured from the inbound webhook.
	Subject    string
	Body       string
	From       string
	Headers    map[string]string
	Source     string
	IsVerified bool

	// Extracted fields, nil until the extractor has run.
	SenderName      *string
	AmountCents     *int64
	ReferenceNumber *string
	ParseConfidence *float64
	ParseError      *string

	// Resolution fields, nil until matched.
	MatchedTenantID  *int64
	MatchedInvoiceID *int64

	Status             string
	ReconciliationNote string
	ParsedAt           *time.Time
	ReconciledAt       *time.Time
}

// Invoice is the billing entity the pipeline settles against. Only OPEN and
// OVERDUE invoices are candidates for reconciliation.
type Invoice struct {
	ID            int64
	UnitID        int64
	TenancyID     int64
	Status        string // OPEN, OVERDUE, PAID, VOID
	AmountCents   int64
	PeriodMonth   string // YYYY-MM
	DueDate       time.Time
	PaymentMethod string
	PaidAt        *time.Time
	CreatedAt     time.Time
}

const (
	InvoiceStatusOpen    = "OPEN"
	InvoiceStatusOverdue = "OVERDUE"
	InvoiceStatusPaid    = "PAID"
	InvoiceStatusVoid    = "VOID"
)

// Payment is written exactly once per successful reconciliation.
type Payment struct {
	ID          int64
	InvoiceID   int64
	UnitID      int64
	UserID      int64
	AmountCents int64
	Method      string
	Receipt     string
	CreatedAt   time.Time
}

// Tenancy is one row of the active tenant roster, read fresh per request.
type Tenancy struct {
	UserID       int64
	Name         string
	Email        string
	UnitID       int64
	UnitLabel    string
	BuildingName string
}

// ActivityEntry is one append-only audit line. Metadata is a JSON blob and
// must never contain more than name/amount/reference level detail.
type ActivityEntry struct {
	ID        int64
	IntakeID  *int64
	Category  string
	Message   string
	Metadata  string
	CreatedAt time.Time
}

const (
	ActivityReceived   = "intake_received"
	ActivityParsed     = "intake_parsed"
	ActivityMatched    = "intake_matched"
	ActivityNoMatch    = "intake_no_match"
	ActivityDuplicate  = "intake_duplicate"
	ActivityReconciled = "intake_reconciled"
	ActivityDismissed  = "intake_dismissed"
	ActivityAuthReject = "webhook_auth_rejected"
	ActivityError      = "intake_error"
)
