package ports

import (
	"context"

	"nexusradar/internal/domain"
	"nexusradar/internal/domain/rules"
)

// TransactionSource supplies the normalized, date-filtered transactions of a
// merchant realm. Authentication and pagination are its concern.
type TransactionSource interface {
	Fetch(ctx context.Context, realmID string, period domain.Period) ([]domain.Transaction, error)
}

// RuleBook exposes the jurisdiction rule table. *rules.Table implements it.
type RuleBook interface {
	Lookup(code string) (rule rules.Rule, found bool)
	All() []rules.Rule
}
