package logger

// Standard field names for consistent structured logging across yume.
// Use these constants instead of raw strings so the console encoder can
// recognize and format the values.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldSessionID = "session_id"
	FieldCorrID    = "corr_id"
	FieldRef       = "ref"
	FieldKey       = "key"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Domain
	FieldMode     = "mode"
	FieldWorkflow = "workflow"
	FieldJobType  = "job_type"
	FieldPriority = "priority"
	FieldSeed     = "seed"
	FieldSteps    = "steps"
	FieldFraction = "fraction"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"
	FieldState  = "state"
	FieldStatus = "status"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount      = "count"
	FieldSize       = "size"
	FieldQueueDepth = "queue_depth"
)
