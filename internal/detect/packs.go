package detect

import "github.com/bobmcallan/logsentry/internal/models"

// eq builds a scalar-equality field predicate.
func eq(field, value string) models.FieldPredicate {
	return models.FieldPredicate{Field: field, Operator: models.OpEquals, Value: models.PredicateOperand{Scalar: value}}
}

// contains builds a case-insensitive substring field predicate.
func contains(field string, candidates ...string) models.FieldPredicate {
	if len(candidates) == 1 {
		return models.FieldPredicate{Field: field, Operator: models.OpContains, Value: models.PredicateOperand{Scalar: candidates[0]}}
	}
	return models.FieldPredicate{Field: field, Operator: models.OpContains, Value: models.PredicateOperand{List: candidates}}
}

func sel(name string, predicates ...models.FieldPredicate) models.Selection {
	return models.Selection{Name: name, Predicates: predicates}
}

// builtinPacks is the static shipment of four detection packs.
var builtinPacks = []models.DetectionPack{
	{
		ID:       "startup-reliability",
		Category: "reliability",
		Name:     "Startup Reliability",
		Icon:     "activity",
		Author:   "logsentry",
		Version:  "1.0.0",
		Rules: []models.DetectionRule{
			{
				ID:          "critical-errors",
				Name:        "Critical-level log entry",
				Description: "Flags any log entry at critical level.",
				Selections:  []models.Selection{sel("crit", eq("level", models.LevelCritical))},
				Condition:   "crit",
				Level:       models.SeverityCritical,
				Status:      models.RuleStatusStable,
				Tags:        []string{"reliability", "errors"},
			},
			{
				ID:          "oom-crashes",
				Name:        "Out-of-memory crash",
				Description: "Flags log entries indicating an OOM kill or heap exhaustion.",
				Selections:  []models.Selection{sel("oom", contains("message", "OOM", "out of memory", "heap space exhausted"))},
				Condition:   "oom",
				Level:       models.SeverityCritical,
				Status:      models.RuleStatusStable,
				Tags:        []string{"reliability", "memory"},
			},
			{
				ID:          "high-error-rate",
				Name:        "Error-level log entry",
				Description: "Flags error-level log entries for rate-based alerting downstream.",
				Selections:  []models.Selection{sel("err", eq("level", models.LevelError))},
				Condition:   "err",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"reliability", "errors"},
			},
			{
				ID:          "panic-detected",
				Name:        "Unrecovered panic",
				Description: "Flags log entries containing an unrecovered panic trace.",
				Selections:  []models.Selection{sel("panic", contains("message", "panic:"))},
				Condition:   "panic",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"reliability", "crash"},
			},
			{
				ID:          "legacy-restart-storm",
				Name:        "Legacy restart storm detector",
				Description: "Superseded by panic-detected; kept for historical activations.",
				Selections:  []models.Selection{sel("restart", contains("message", "restarting"))},
				Condition:   "restart",
				Level:       models.SeverityMedium,
				Status:      models.RuleStatusDeprecated,
				Tags:        []string{"reliability"},
			},
		},
	},
	{
		ID:       "auth-security",
		Category: "security",
		Name:     "Auth & Security",
		Icon:     "shield",
		Author:   "logsentry",
		Version:  "1.0.0",
		Rules: []models.DetectionRule{
			{
				ID:          "failed-login-attempts",
				Name:        "Failed login attempt",
				Description: "Flags failed authentication attempts on the auth service.",
				Logsource:   models.LogsourceSelector{Service: "auth"},
				Selections:  []models.Selection{sel("fail", contains("message", "failed login"))},
				Condition:   "fail",
				Level:       models.SeverityMedium,
				Status:      models.RuleStatusStable,
				Tags:        []string{"auth", "brute-force"},
			},
			{
				ID:          "account-lockout",
				Name:        "Account lockout",
				Description: "Flags accounts locked after repeated failed attempts.",
				Logsource:   models.LogsourceSelector{Service: "auth"},
				Selections:  []models.Selection{sel("lockout", contains("message", "account locked"))},
				Condition:   "lockout",
				Level:       models.SeverityMedium,
				Status:      models.RuleStatusStable,
				Tags:        []string{"auth"},
			},
			{
				ID:          "privilege-escalation",
				Name:        "Privilege escalation",
				Description: "Flags unexpected elevation of a principal's privileges.",
				Selections:  []models.Selection{sel("escalate", contains("message", "privilege elevated", "sudo granted"))},
				Condition:   "escalate",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"auth", "privilege"},
			},
			{
				ID:          "session-hijack-suspected",
				Name:        "Suspected session hijack",
				Description: "Flags a session reused from an unexpected context.",
				Selections:  []models.Selection{sel("session", contains("message", "session token reused"))},
				Condition:   "session",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusExperimental,
				Tags:        []string{"auth", "session"},
			},
		},
	},
	{
		ID:       "database-health",
		Category: "database",
		Name:     "Database Health",
		Icon:     "database",
		Author:   "logsentry",
		Version:  "1.0.0",
		Rules: []models.DetectionRule{
			{
				ID:          "connection-pool-exhausted",
				Name:        "Connection pool exhausted",
				Description: "Flags database connection pool exhaustion.",
				Selections:  []models.Selection{sel("pool", contains("message", "pool exhausted", "connection pool exhausted"))},
				Condition:   "pool",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"database"},
			},
			{
				ID:          "slow-query-detected",
				Name:        "Slow query detected",
				Description: "Flags a query exceeding the configured slow-query threshold.",
				Selections:  []models.Selection{sel("slow", contains("message", "slow query"))},
				Condition:   "slow",
				Level:       models.SeverityMedium,
				Status:      models.RuleStatusStable,
				Tags:        []string{"database", "performance"},
			},
			{
				ID:          "replication-lag-critical",
				Name:        "Critical replication lag",
				Description: "Flags replicas falling critically behind the primary.",
				Selections:  []models.Selection{sel("lag", contains("message", "replication lag"))},
				Condition:   "lag",
				Level:       models.SeverityCritical,
				Status:      models.RuleStatusStable,
				Tags:        []string{"database", "replication"},
			},
			{
				ID:          "deadlock-detected",
				Name:        "Deadlock detected",
				Description: "Flags a transaction deadlock reported by the database engine.",
				Selections:  []models.Selection{sel("deadlock", contains("message", "deadlock"))},
				Condition:   "deadlock",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"database"},
			},
		},
	},
	{
		ID:       "payment-billing",
		Category: "business",
		Name:     "Payment & Billing",
		Icon:     "credit-card",
		Author:   "logsentry",
		Version:  "1.0.0",
		Rules: []models.DetectionRule{
			{
				ID:          "payment-failure-spike",
				Name:        "Payment processing failure",
				Description: "Flags a failed payment-processing attempt.",
				Logsource:   models.LogsourceSelector{Service: "billing"},
				Selections:  []models.Selection{sel("failed", contains("message", "payment failed"))},
				Condition:   "failed",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"billing", "payments"},
			},
			{
				ID:          "chargeback-detected",
				Name:        "Chargeback filed",
				Description: "Flags a chargeback raised against a processed payment.",
				Logsource:   models.LogsourceSelector{Service: "billing"},
				Selections:  []models.Selection{sel("chargeback", contains("message", "chargeback"))},
				Condition:   "chargeback",
				Level:       models.SeverityMedium,
				Status:      models.RuleStatusStable,
				Tags:        []string{"billing"},
			},
			{
				ID:          "subscription-renewal-failure",
				Name:        "Subscription renewal failure",
				Description: "Flags a recurring subscription that failed to renew.",
				Logsource:   models.LogsourceSelector{Service: "billing"},
				Selections:  []models.Selection{sel("renewal", contains("message", "renewal failed"))},
				Condition:   "renewal",
				Level:       models.SeverityHigh,
				Status:      models.RuleStatusStable,
				Tags:        []string{"billing", "subscriptions"},
			},
			{
				ID:          "webhook-delivery-failure",
				Name:        "Billing webhook delivery failure",
				Description: "Flags a billing event webhook that failed delivery after retries.",
				Logsource:   models.LogsourceSelector{Service: "billing"},
				Selections:  []models.Selection{sel("webhook", contains("message", "webhook delivery failed"))},
				Condition:   "webhook",
				Level:       models.SeverityMedium,
				Status:      models.RuleStatusStable,
				Tags:        []string{"billing", "webhooks"},
			},
		},
	},
}
