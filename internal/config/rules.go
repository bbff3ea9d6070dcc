package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// ruleFile is the TOML shape of an external rule table.
type ruleFile struct {
	Rules []ruleEntry `toml:"rules"`
}

type ruleEntry struct {
	ID         string  `toml:"id"`
	Department string  `toml:"department"`
	Keyword    string  `toml:"keyword"`
	Pattern    string  `toml:"pattern"`
	Field      string  `toml:"field"`
	Weight     float64 `toml:"weight"`
}

// LoadRules reads a rule table from a TOML file. An empty path returns
// the built-in default rules, so a deployment without a rules file still
// classifies.
func LoadRules(path string) ([]domain.Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var file ruleFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	rules := make([]domain.Rule, 0, len(file.Rules))
	for i, e := range file.Rules {
		rule := domain.Rule{
			ID:         e.ID,
			Department: domain.Department(e.Department),
			Keyword:    e.Keyword,
			Pattern:    e.Pattern,
			Field:      domain.RuleField(e.Field),
			Weight:     e.Weight,
		}
		if rule.Field == "" {
			rule.Field = domain.FieldText
		}
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, e.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// validateRule rejects rules the engine cannot evaluate.
func validateRule(r domain.Rule) error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", domain.ErrInvalidInput)
	}
	if !knownDepartment(r.Department) || r.Department == domain.DeptUnclassified {
		return fmt.Errorf("%w: unknown department %q", domain.ErrInvalidInput, r.Department)
	}
	if (r.Keyword == "") == (r.Pattern == "") {
		return fmt.Errorf("%w: exactly one of keyword or pattern must be set", domain.ErrInvalidInput)
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("%w: bad pattern: %v", domain.ErrInvalidInput, err)
		}
	}
	switch r.Field {
	case domain.FieldText, domain.FieldFilename, domain.FieldChannel, domain.FieldFileType:
	default:
		return fmt.Errorf("%w: unknown field %q", domain.ErrInvalidInput, r.Field)
	}
	if r.Weight <= 0 {
		return fmt.Errorf("%w: weight must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// DefaultRules is the built-in rule table. Keyword rules carry weight
// 0.5, regex pattern rules 0.8 and filename hints 0.3; CAD content is a
// strong engineering signal at 1.0.
func DefaultRules() []domain.Rule {
	var rules []domain.Rule

	keywords := map[domain.Department][]string{
		domain.DeptEngineering: {
			"engineering", "technical", "design", "maintenance",
			"infrastructure", "track", "signal", "electrical",
			"rolling stock", "drawing", "specification", "cad",
		},
		domain.DeptProcurement: {
			"procurement", "purchase", "vendor", "supplier",
			"quotation", "tender", "invoice", "purchase order",
			"spare parts", "delivery",
		},
		domain.DeptHR: {
			"human resource", "employee", "recruitment", "training",
			"leave", "attendance", "payroll", "appraisal",
			"resignation", "promotion",
		},
		domain.DeptFinance: {
			"finance", "financial", "accounting", "budget",
			"expenditure", "revenue", "tax", "billing", "ledger",
			"transaction",
		},
		domain.DeptSafety: {
			"safety", "accident", "incident", "hazard", "emergency",
			"fire", "evacuation", "first aid", "injury", "ppe",
		},
		domain.DeptOperations: {
			"operations", "schedule", "timetable", "passenger",
			"ridership", "punctuality", "control room", "dispatch",
			"disruption",
		},
		domain.DeptLegal: {
			"legal", "litigation", "agreement", "contract", "clause",
			"liability", "dispute", "arbitration", "settlement",
		},
		domain.DeptRegulatory: {
			"regulatory", "regulation", "compliance", "commissioner",
			"ministry", "authority", "license", "permit", "clearance",
		},
	}

	// Deterministic rule ordering: departments in priority order.
	for _, dept := range domain.DefaultDepartmentPriority {
		for i, kw := range keywords[dept] {
			rules = append(rules, domain.Rule{
				ID:         fmt.Sprintf("%s-kw-%02d", deptSlug(dept), i),
				Department: dept,
				Keyword:    kw,
				Field:      domain.FieldText,
				Weight:     0.5,
			})
		}
	}

	patterns := []domain.Rule{
		{ID: "eng-pat-drawing-no", Department: domain.DeptEngineering, Pattern: `drawing\s+no`, Weight: 0.8},
		{ID: "eng-pat-cad-ext", Department: domain.DeptEngineering, Pattern: `\b(dwg|dxf)\b`, Weight: 0.8},
		{ID: "proc-pat-po-no", Department: domain.DeptProcurement, Pattern: `po\s+no|purchase\s+order`, Weight: 0.8},
		{ID: "proc-pat-invoice-no", Department: domain.DeptProcurement, Pattern: `invoice\s+no`, Weight: 0.8},
		{ID: "fin-pat-currency", Department: domain.DeptFinance, Pattern: `₹|\busd\b|\binr\b`, Weight: 0.8},
		{ID: "fin-pat-account-no", Department: domain.DeptFinance, Pattern: `account\s+no|transaction\s+id`, Weight: 0.8},
		{ID: "saf-pat-accident", Department: domain.DeptSafety, Pattern: `accident\s+report|incident\s+no`, Weight: 0.8},
	}
	for i := range patterns {
		patterns[i].Field = domain.FieldText
	}
	rules = append(rules, patterns...)

	filenameHints := []domain.Rule{
		{ID: "eng-name-dwg", Department: domain.DeptEngineering, Keyword: "dwg", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "eng-name-design", Department: domain.DeptEngineering, Keyword: "design", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "proc-name-po", Department: domain.DeptProcurement, Keyword: "purchase", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "proc-name-invoice", Department: domain.DeptProcurement, Keyword: "invoice", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "hr-name-hr", Department: domain.DeptHR, Keyword: "hr", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "fin-name-budget", Department: domain.DeptFinance, Keyword: "budget", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "saf-name-safety", Department: domain.DeptSafety, Keyword: "safety", Field: domain.FieldFilename, Weight: 0.3},
		{ID: "ops-name-schedule", Department: domain.DeptOperations, Keyword: "schedule", Field: domain.FieldFilename, Weight: 0.3},
	}
	rules = append(rules, filenameHints...)

	// Binary CAD has no text layer; the detected type is the signal.
	rules = append(rules, domain.Rule{
		ID:         "eng-type-cad",
		Department: domain.DeptEngineering,
		Keyword:    string(domain.TypeCAD),
		Field:      domain.FieldFileType,
		Weight:     1.0,
	})

	return rules
}

func deptSlug(d domain.Department) string {
	switch d {
	case domain.DeptEngineering:
		return "eng"
	case domain.DeptProcurement:
		return "proc"
	case domain.DeptHR:
		return "hr"
	case domain.DeptFinance:
		return "fin"
	case domain.DeptSafety:
		return "saf"
	case domain.DeptOperations:
		return "ops"
	case domain.DeptLegal:
		return "leg"
	case domain.DeptRegulatory:
		return "reg"
	default:
		return "gen"
	}
}
