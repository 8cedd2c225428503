package detect

import (
	"strings"

	"github.com/bobmcallan/logsentry/internal/models"
)

// fieldString resolves a selection predicate's field name against a log:
// the fixed fields first (service, level, message, span_id), then the
// log's typed attributes.
func fieldString(log models.LogRecord, field string) (string, bool) {
	switch field {
	case "service":
		return log.Service, true
	case "level":
		return log.Level, true
	case "message":
		return log.Message, true
	case "span_id":
		return log.SpanID, true
	default:
		v, ok := log.Attribute(field)
		if !ok {
			return "", false
		}
		return v.AsString()
	}
}

// operandCandidates flattens a PredicateOperand's scalar/list form into one
// slice, since contains/startswith/endswith are specified as any-match
// against either form.
func operandCandidates(op models.PredicateOperand) []string {
	candidates := op.List
	if op.Scalar != "" {
		candidates = append(candidates, op.Scalar)
	}
	return candidates
}

// matchPredicate evaluates one field predicate against a log. A field
// absent from the log never matches, regardless of operator.
func matchPredicate(p models.FieldPredicate, log models.LogRecord) bool {
	value, ok := fieldString(log, p.Field)
	if !ok {
		return false
	}

	switch p.Operator {
	case models.OpEquals:
		if len(p.Value.List) > 0 {
			for _, candidate := range p.Value.List {
				if value == candidate {
					return true
				}
			}
			return false
		}
		return value == p.Value.Scalar

	case models.OpContains:
		lower := strings.ToLower(value)
		for _, candidate := range operandCandidates(p.Value) {
			if strings.Contains(lower, strings.ToLower(candidate)) {
				return true
			}
		}
		return false

	case models.OpStartswith:
		lower := strings.ToLower(value)
		for _, candidate := range operandCandidates(p.Value) {
			if strings.HasPrefix(lower, strings.ToLower(candidate)) {
				return true
			}
		}
		return false

	case models.OpEndswith:
		lower := strings.ToLower(value)
		for _, candidate := range operandCandidates(p.Value) {
			if strings.HasSuffix(lower, strings.ToLower(candidate)) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// matchSelection evaluates a named selection's predicates as a
// conjunction. A selection with no predicates never matches.
func matchSelection(sel models.Selection, log models.LogRecord) bool {
	if len(sel.Predicates) == 0 {
		return false
	}
	for _, p := range sel.Predicates {
		if !matchPredicate(p, log) {
			return false
		}
	}
	return true
}

// matchLogsource reports whether log satisfies rule's logsource selector:
// every non-empty selector field must equal the log's corresponding value,
// service against LogRecord.Service and product/category against the
// log's attributes of the same name.
func matchLogsource(sel models.LogsourceSelector, log models.LogRecord) bool {
	if sel.Service != "" && log.Service != sel.Service {
		return false
	}
	if sel.Product != "" {
		v, ok := log.Attribute("product")
		if !ok {
			return false
		}
		s, _ := v.AsString()
		if s != sel.Product {
			return false
		}
	}
	if sel.Category != "" {
		v, ok := log.Attribute("category")
		if !ok {
			return false
		}
		s, _ := v.AsString()
		if s != sel.Category {
			return false
		}
	}
	return true
}
