package services

import (
	"context"
	"time"

	"kb-retriever/internal/logger"
	"kb-retriever/models"
)

// QuotaLedger gates token-consuming operations behind daily caps,
// scoped per tenant and per user. Usage totals are aggregated from
// the append-only log on every check instead of being cached in
// memory; with daily-granularity enforcement the query cost is an
// acceptable trade for not having to keep counters consistent.
//
// Enforcement is check-then-act: the check and the later usage write
// are not spanned by any lock or transaction, so concurrent requests
// can transiently overshoot a cap proportionally to in-flight
// concurrency. Callers needing hard caps must add a reservation step.
type QuotaLedger struct {
	usage     UsageStore
	tenantCap int
	userCap   int
}

func NewQuotaLedger(usage UsageStore, tenantCap, userCap int) *QuotaLedger {
	return &QuotaLedger{usage: usage, tenantCap: tenantCap, userCap: userCap}
}

// Enforce denies with a *QuotaExceededError when adding projected
// tokens would push today's tenant or user total over its cap. The
// tenant check runs first; its denial takes precedence.
func (q *QuotaLedger) Enforce(ctx context.Context, tenantID, userID string, projectedTokens int) error {
	tenantUsed, err := q.usage.DailyTenantTokens(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenantUsed+projectedTokens > q.tenantCap {
		return &QuotaExceededError{Scope: "tenant", Used: tenantUsed, Cap: q.tenantCap}
	}

	userUsed, err := q.usage.DailyUserTokens(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if userUsed+projectedTokens > q.userCap {
		return &QuotaExceededError{Scope: "user", Used: userUsed, Cap: q.userCap}
	}
	return nil
}

// Status reports today's usage against both caps, for the quota check
// endpoint.
func (q *QuotaLedger) Status(ctx context.Context, tenantID, userID string) (tenant, user models.QuotaStatus, err error) {
	tenantUsed, err := q.usage.DailyTenantTokens(ctx, tenantID)
	if err != nil {
		return tenant, user, err
	}
	userUsed, err := q.usage.DailyUserTokens(ctx, tenantID, userID)
	if err != nil {
		return tenant, user, err
	}
	return models.QuotaStatus{Used: tenantUsed, Cap: q.tenantCap},
		models.QuotaStatus{Used: userUsed, Cap: q.userCap}, nil
}

// Record appends a usage entry for an operation that already consumed
// tokens. It is fire-and-log: a ledger write failure never rolls back
// the consuming operation, it only shows up in the logs.
func (q *QuotaLedger) Record(ctx context.Context, tenantID, userID string, tokensIn, tokensOut int) {
	rec := models.UsageRecord{
		TenantID:  tenantID,
		UserID:    userID,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CreatedAt: time.Now(),
	}
	if err := q.usage.Append(ctx, rec); err != nil {
		logger.Error("usage record write failed",
			"tenant_id", tenantID, "user_id", userID,
			"tokens_in", tokensIn, "tokens_out", tokensOut, "error", err)
	}
}

// TenantCap exposes the configured tenant cap for alerting.
func (q *QuotaLedger) TenantCap() int { return q.tenantCap }
