package audithook

// Action constants for audit events.
const (
	// Contract actions
	ActionContractCreated = "contract.created"
	ActionContractUpdated = "contract.updated"

	// Metering actions
	ActionDocumentsRecorded = "documents.recorded"
	ActionMinutesCredited   = "minutes.credited"
	ActionAllowanceExceeded = "allowance.exceeded"

	// Timer actions
	ActionTimerStarted = "timer.started"
	ActionTimerStopped = "timer.stopped"

	// Invoice actions
	ActionInvoiceCommitted = "invoice.committed"
)

// Resource constants for audit events.
const (
	ResourceContract = "contract"
	ResourceUsage    = "usage"
	ResourceSession  = "session"
	ResourceInvoice  = "invoice"
)

// Category constants for audit events.
const (
	CategoryBilling = "billing"
	CategoryUsage   = "usage"
	CategoryTime    = "time"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
