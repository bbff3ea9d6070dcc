package domain

import "time"

// ContentHash is a hex-encoded SHA-256 digest of a document's bytes.
// Identical bytes always produce the same hash regardless of filename,
// channel or arrival time, which makes it the deduplication key.
type ContentHash string

// SourceChannel identifies which intake channel delivered a document.
type SourceChannel string

// Intake channels.
const (
	ChannelEmail       SourceChannel = "EMAIL"
	ChannelFileWatcher SourceChannel = "FILE_WATCHER"
	ChannelManual      SourceChannel = "MANUAL"
	ChannelRemoteStore SourceChannel = "REMOTE_STORE"
)

// FileType is the detected content type of a document.
// Detection is signature-based with extension fallback; it is never
// derived from the filename alone when the signature is conclusive.
type FileType string

// Detected file types.
const (
	TypePDF     FileType = "PDF"
	TypeOffice  FileType = "OFFICE"
	TypeImage   FileType = "IMAGE"
	TypeCAD     FileType = "CAD"
	TypeText    FileType = "TEXT"
	TypeUnknown FileType = "UNKNOWN"
)

// Department is the owning department elected by classification.
type Department string

// Departments.
const (
	DeptEngineering  Department = "ENGINEERING"
	DeptProcurement  Department = "PROCUREMENT"
	DeptHR           Department = "HR"
	DeptFinance      Department = "FINANCE"
	DeptSafety       Department = "SAFETY"
	DeptOperations   Department = "OPERATIONS"
	DeptLegal        Department = "LEGAL"
	DeptRegulatory   Department = "REGULATORY"
	DeptUnclassified Department = "UNCLASSIFIED"
)

// DefaultDepartmentPriority is the declared tie-break ordering used when
// two departments accumulate equal top weight. Earlier wins. The ordering
// is configuration-visible and deliberately puts safety-critical routing
// first; it can be overridden per deployment.
var DefaultDepartmentPriority = []Department{
	DeptSafety,
	DeptRegulatory,
	DeptLegal,
	DeptFinance,
	DeptProcurement,
	DeptEngineering,
	DeptOperations,
	DeptHR,
}

// HistoryEntry is one immutable record in a Document's audit trail.
// Entries are totally ordered by Seq; Timestamp ties are broken by Seq.
type HistoryEntry struct {
	// Seq is a per-document monotonically increasing sequence number.
	Seq int

	// Status is the status the document held after this event.
	Status Status

	// Actor identifies who caused the event: a channel name for
	// provenance entries, "orchestrator" for transitions, "operator"
	// for resubmissions.
	Actor string

	// Detail carries free-form context (original name, error text).
	Detail string

	// Timestamp is when the event was recorded.
	Timestamp time.Time
}

// Provenance records one delivery of a document's bytes.
// Duplicate deliveries never create a second Document; they append a
// provenance entry to the existing one.
type Provenance struct {
	Channel      SourceChannel
	OriginalName string
	ReceivedAt   time.Time
	Metadata     map[string]string
}

// Table is structured tabular content lifted during extraction.
type Table struct {
	Name string
	Rows [][]string
}

// Document is the unit of work: one unique byte content moving through
// the state machine to a terminal outcome.
type Document struct {
	// ID is the stable identifier, generated once, never reused.
	ID string

	// Fingerprint is the content hash; unique across all Documents.
	Fingerprint ContentHash

	// SourceChannel is the channel of first delivery.
	SourceChannel SourceChannel

	// OriginalName is the filename from the first delivery.
	OriginalName string

	// SizeBytes is the content length in bytes.
	SizeBytes int64

	// ReceivedAt is when the first delivery arrived.
	ReceivedAt time.Time

	// DetectedType is set by the extraction gateway's type detection.
	DetectedType FileType

	// Status is the current state machine position.
	Status Status

	// ExtractedText is present once the document reaches EXTRACTED.
	ExtractedText string

	// ExtractedTables holds tabular content, if any.
	ExtractedTables []Table

	// Department and Confidence are set together, atomically, or not
	// at all. Confidence is always within [0,1] and is 0 exactly when
	// Department is UNCLASSIFIED.
	Department Department
	Confidence float64

	// ClassificationReasons is the ordered trace of fired rules.
	ClassificationReasons []RuleMatch

	// RetryCount is the number of retryable failures recorded so far.
	RetryCount int

	// LastError is the most recent failure, preserved through retries.
	LastError string

	// Metadata carries channel and extraction metadata.
	Metadata map[string]string

	// History is the append-only audit trail.
	History []HistoryEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextSeq returns the sequence number the next history entry should use.
func (d *Document) NextSeq() int {
	if len(d.History) == 0 {
		return 1
	}
	return d.History[len(d.History)-1].Seq + 1
}
