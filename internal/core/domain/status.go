package domain

// Status is a Document's position in the processing state machine.
//
// The machine is strictly forward:
//
//	RECEIVED → TYPED → EXTRACTING → EXTRACTED → CLASSIFYING → CLASSIFIED → STORED
//
// FAILED is reachable from every non-terminal state. STORED and FAILED are
// terminal; a terminal Document can only be revisited via explicit
// resubmission, which records a fresh attempt in history.
type Status string

// Processing states.
const (
	StatusReceived    Status = "RECEIVED"
	StatusTyped       Status = "TYPED"
	StatusExtracting  Status = "EXTRACTING"
	StatusExtracted   Status = "EXTRACTED"
	StatusClassifying Status = "CLASSIFYING"
	StatusClassified  Status = "CLASSIFIED"
	StatusStored      Status = "STORED"
	StatusFailed      Status = "FAILED"
)

// transitions maps each status to the set of statuses it may move to.
var transitions = map[Status][]Status{
	StatusReceived:    {StatusTyped, StatusFailed},
	StatusTyped:       {StatusExtracting, StatusFailed},
	StatusExtracting:  {StatusExtracted, StatusTyped, StatusFailed},
	StatusExtracted:   {StatusClassifying, StatusFailed},
	StatusClassifying: {StatusClassified, StatusExtracted, StatusFailed},
	StatusClassified:  {StatusStored, StatusFailed},
	StatusStored:      {},
	StatusFailed:      {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusStored || s == StatusFailed
}

// CanTransitionTo reports whether the state machine permits s → to.
// Rewinds (EXTRACTING → TYPED, CLASSIFYING → EXTRACTED) are permitted
// because retryable failures re-enter at the step before the failure.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// RetryEntryPoint returns the status a retryable failure rewinds to.
// Only the two statuses that represent in-flight external calls have a
// retry entry point; every other status returns itself.
func (s Status) RetryEntryPoint() Status {
	switch s {
	case StatusExtracting:
		return StatusTyped
	case StatusClassifying:
		return StatusExtracted
	default:
		return s
	}
}
