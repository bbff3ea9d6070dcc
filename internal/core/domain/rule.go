package domain

// RuleField selects which part of a document a rule inspects.
type RuleField string

// Rule fields.
const (
	FieldText     RuleField = "text"
	FieldFilename RuleField = "filename"
	FieldChannel  RuleField = "channel"
	FieldFileType RuleField = "filetype"
)

// Rule is one entry in the declarative classification table: a predicate
// over normalised text or structural metadata, a target department and a
// weight. Rules are data, not code; the engine evaluates all of them and
// accumulates weighted votes.
type Rule struct {
	// ID uniquely names the rule for the reasoning trace.
	ID string

	// Department receives this rule's weight when the rule fires.
	Department Department

	// Keyword is a literal token matched against the normalised field.
	// Exactly one of Keyword or Pattern is set.
	Keyword string

	// Pattern is a regular expression matched against the normalised
	// field. Compiled once at load time.
	Pattern string

	// Field selects the input the rule inspects. Defaults to text.
	Field RuleField

	// Weight is this rule's vote strength. Must be positive.
	Weight float64
}

// RuleMatch is one entry in a Document's classification reasoning trace.
type RuleMatch struct {
	// RuleID names the rule that fired.
	RuleID string

	// Matched is the span or token the rule matched.
	Matched string

	// Weight is the weight the rule contributed.
	Weight float64
}

// Verdict is the outcome of classifying one document.
type Verdict struct {
	// Department is the elected department, UNCLASSIFIED when no rule
	// matched.
	Department Department

	// Confidence is elected weight over total matched weight, in
	// [0,1]; exactly 0 when Department is UNCLASSIFIED.
	Confidence float64

	// Reasons is the ordered list of fired rules.
	Reasons []RuleMatch

	// Scores holds the accumulated weight per department, for audit.
	Scores map[Department]float64
}
