package models

import "time"

// Severity is a detection's severity level.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"
)

// severityWeight gives the severity's position in the strict total
// ordering critical=5, high=4, medium=3, low=2, informational=1.
var severityWeight = map[Severity]int{
	SeverityCritical:      5,
	SeverityHigh:          4,
	SeverityMedium:        3,
	SeverityLow:           2,
	SeverityInformational: 1,
}

// Weight returns the severity's ordering weight; unrecognized severities
// weigh 0, sorting below every known severity.
func (s Severity) Weight() int { return severityWeight[s] }

// Max returns whichever of s and other has the greater weight.
func (s Severity) Max(other Severity) Severity {
	if other.Weight() > s.Weight() {
		return other
	}
	return s
}

// RuleStatus is a DetectionRule's lifecycle status.
type RuleStatus string

const (
	RuleStatusExperimental RuleStatus = "experimental"
	RuleStatusTest         RuleStatus = "test"
	RuleStatusStable       RuleStatus = "stable"
	RuleStatusDeprecated   RuleStatus = "deprecated"
	RuleStatusUnsupported  RuleStatus = "unsupported"
)

// Evaluable reports whether rules with this status participate in
// evaluation; deprecated and unsupported rules are loaded but skipped.
func (s RuleStatus) Evaluable() bool {
	return s != RuleStatusDeprecated && s != RuleStatusUnsupported
}

// LogsourceSelector narrows which logs a rule is even considered against.
// A zero-value field is a wildcard.
type LogsourceSelector struct {
	Product  string `json:"product,omitempty"`
	Service  string `json:"service,omitempty"`
	Category string `json:"category,omitempty"`
}

// FieldPredicate is one atom of a named selection: a field name with a
// suffix operator, matched against a value.
type FieldPredicate struct {
	Field    string          `json:"field"`
	Operator PredicateOp     `json:"operator"`
	Value    PredicateOperand `json:"value"`
}

// PredicateOp is the suffix operator applied to a field predicate.
type PredicateOp string

const (
	OpEquals     PredicateOp = "equals"     // field
	OpContains   PredicateOp = "contains"   // field|contains
	OpStartswith PredicateOp = "startswith" // field|startswith
	OpEndswith   PredicateOp = "endswith"   // field|endswith
)

// PredicateOperand is the right-hand side of a FieldPredicate: a single
// scalar string or a set of candidate strings (the Sigma "list value"
// form), evaluated as any-match.
type PredicateOperand struct {
	Scalar string
	List   []string
}

// Selection is a named conjunction of field predicates.
type Selection struct {
	Name       string
	Predicates []FieldPredicate
}

// DetectionRule is one pattern evaluated against incoming logs.
type DetectionRule struct {
	ID          string
	Name        string
	Description string
	Logsource   LogsourceSelector
	Selections  []Selection
	Condition   string // textual condition grammar over selection names
	Level       Severity
	Status      RuleStatus
	Tags        []string
	References  []string
}

// DetectionPack is a named, ordered bundle of rules shipped with the
// binary. The set of packs is static at runtime.
type DetectionPack struct {
	ID       string
	Category string // reliability | security | database | business
	Name     string
	Icon     string
	Author   string
	Version  string
	Rules    []DetectionRule
}

// RuleOverride narrows or relabels a rule's audience for one tenant. A nil
// pointer field means "inherit from the rule"; a non-nil field is an
// explicit override and may only narrow, never broaden.
type RuleOverride struct {
	Severity       *Severity `json:"severity,omitempty"`
	EmailEnabled   *bool     `json:"email_enabled,omitempty"`
	WebhookEnabled *bool     `json:"webhook_enabled,omitempty"`
}

// EffectiveSeverity resolves override.Severity ?? rule.Level.
func (o RuleOverride) EffectiveSeverity(ruleLevel Severity) Severity {
	if o.Severity != nil {
		return *o.Severity
	}
	return ruleLevel
}

// PackActivation is the per-tenant, per-pack activation record. Exactly
// one exists per (tenant, pack) while enabled.
type PackActivation struct {
	Tenant        string
	PackID        string
	Enabled       bool
	RuleOverrides map[string]RuleOverride
	ActivatedAt   time.Time
	UpdatedAt     time.Time
}

// OverrideFor returns the activation's override for ruleID, or the zero
// RuleOverride (pure inherit) if none is set.
func (a PackActivation) OverrideFor(ruleID string) RuleOverride {
	if a.RuleOverrides == nil {
		return RuleOverride{}
	}
	return a.RuleOverrides[ruleID]
}

// DetectionEvent is a single rule-match occurrence tied to one log.
// Append-only.
type DetectionEvent struct {
	ID        string
	Tenant    string
	Project   string
	RuleID    string
	LogID     string
	Severity  Severity
	Timestamp time.Time
	Excerpt   string
}
