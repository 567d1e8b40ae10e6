package reconcile

// Status represents the lifecycle state of one intake record
type Status string

const (
	StatusReceived     Status = "RECEIVED"
	StatusParsed       Status = "PARSED"
	StatusMatched      Status = "MATCHED"
	StatusPaid         Status = "PAID"
	StatusManualReview Status = "MANUAL_REVIEW"
	StatusFailed       Status = "FAILED"
	StatusDismissed    Status = "DISMISSED"
)

var validStatuses = map[Status]bool{
	StatusReceived:     true,
	StatusParsed:       true,
	StatusMatched:      true,
	StatusPaid:         true,
	StatusManualReview: true,
	StatusFailed:       true,
	StatusDismissed:    true,
}

// Terminal states admit no further automatic transition. MANUAL_REVIEW is
// deliberately absent: an operator can still resolve or dismiss it.
var terminalStatuses = map[Status]bool{
	StatusPaid:      true,
	StatusFailed:    true,
	StatusDismissed: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsValid returns true if the status is a member of the closed set
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}
