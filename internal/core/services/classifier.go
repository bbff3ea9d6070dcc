package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// Classifier is the rule-based classification engine. It evaluates every
// rule against a document, accumulates weighted votes per department and
// elects the winner. The engine is deterministic: the same document and
// rule table always produce the same verdict, including the same ordered
// reasoning trace.
type Classifier struct {
	rules        []compiledRule
	priority     map[domain.Department]int
	translations []translation
}

type compiledRule struct {
	rule    domain.Rule
	pattern *regexp.Regexp
}

type translation struct {
	from string
	to   string
}

// NewClassifier compiles a rule table. The priority slice is the declared
// tie-break ordering; earlier departments win ties. Translations fold
// script-specific variants onto canonical tokens before evaluation, so a
// Malayalam subject line hits the same rules as its English equivalent.
func NewClassifier(
	rules []domain.Rule,
	priority []domain.Department,
	translations map[string]string,
) (*Classifier, error) {
	if len(priority) == 0 {
		priority = domain.DefaultDepartmentPriority
	}

	c := &Classifier{
		priority: make(map[domain.Department]int, len(priority)),
	}
	for i, d := range priority {
		c.priority[d] = i
	}

	for _, r := range rules {
		if r.Weight <= 0 {
			return nil, fmt.Errorf("%w: rule %s has non-positive weight", domain.ErrInvalidInput, r.ID)
		}
		if _, ok := c.priority[r.Department]; !ok {
			return nil, fmt.Errorf("%w: rule %s targets department %s outside the priority ordering",
				domain.ErrInvalidInput, r.ID, r.Department)
		}
		cr := compiledRule{rule: r}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %s: bad pattern: %v", domain.ErrInvalidInput, r.ID, err)
			}
			cr.pattern = re
		}
		c.rules = append(c.rules, cr)
	}

	// Translations apply in a fixed order so folding is deterministic.
	keys := make([]string, 0, len(translations))
	for k := range translations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.translations = append(c.translations, translation{
			from: strings.ToLower(k),
			to:   strings.ToLower(translations[k]),
		})
	}

	return c, nil
}

// RuleCount returns the number of compiled rules.
func (c *Classifier) RuleCount() int {
	return len(c.rules)
}

// Classify evaluates the rule table against doc and returns the verdict.
// Confidence is the winner's accumulated weight over the total matched
// weight; no rule firing yields UNCLASSIFIED with confidence exactly 0.
func (c *Classifier) Classify(doc *domain.Document) *domain.Verdict {
	text := c.normalise(doc.ExtractedText)
	filename := c.normalise(doc.OriginalName)
	channel := strings.ToLower(string(doc.SourceChannel))
	filetype := strings.ToLower(string(doc.DetectedType))

	verdict := &domain.Verdict{
		Department: domain.DeptUnclassified,
		Scores:     make(map[domain.Department]float64),
	}

	var total float64
	for _, cr := range c.rules {
		var field string
		switch cr.rule.Field {
		case domain.FieldFilename:
			field = filename
		case domain.FieldChannel:
			field = channel
		case domain.FieldFileType:
			field = filetype
		default:
			field = text
		}

		matched, span := cr.match(field)
		if !matched {
			continue
		}

		verdict.Scores[cr.rule.Department] += cr.rule.Weight
		total += cr.rule.Weight
		verdict.Reasons = append(verdict.Reasons, domain.RuleMatch{
			RuleID:  cr.rule.ID,
			Matched: span,
			Weight:  cr.rule.Weight,
		})
	}

	if total == 0 {
		return verdict
	}

	winner := c.elect(verdict.Scores)
	verdict.Department = winner
	verdict.Confidence = verdict.Scores[winner] / total
	return verdict
}

// match evaluates one rule against its field and returns the matched span
// for the reasoning trace.
func (cr compiledRule) match(field string) (bool, string) {
	if cr.pattern != nil {
		span := cr.pattern.FindString(field)
		return span != "", span
	}
	kw := strings.ToLower(cr.rule.Keyword)
	if strings.Contains(field, kw) {
		return true, kw
	}
	return false, ""
}

// elect picks the department with the highest accumulated weight,
// breaking ties by the declared priority ordering.
func (c *Classifier) elect(scores map[domain.Department]float64) domain.Department {
	winner := domain.DeptUnclassified
	best := -1.0
	for dept, score := range scores {
		switch {
		case score > best:
			winner, best = dept, score
		case score == best && c.priority[dept] < c.priority[winner]:
			winner = dept
		}
	}
	return winner
}

// normalise lower-cases, folds translated tokens onto their canonical
// form and collapses whitespace runs, so rule authors match against a
// predictable shape.
func (c *Classifier) normalise(s string) string {
	s = strings.ToLower(s)
	for _, t := range c.translations {
		s = strings.ReplaceAll(s, t.from, t.to)
	}
	return strings.Join(strings.Fields(s), " ")
}
