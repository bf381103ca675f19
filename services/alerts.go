package services

import (
	"context"

	"kb-retriever/internal/logger"
)

// QuotaAlertService periodically scans tenants that consumed tokens
// today and logs warnings when they approach the daily cap. Alerts are
// log lines for the on-call dashboard, not emails; the ledger is
// append-only so there is no alert state to persist and repeated scans
// re-emit at most one line per tenant per run.
type QuotaAlertService struct {
	usage           UsageStore
	tenantCap       int
	warnPercent     int
	criticalPercent int
}

func NewQuotaAlertService(usage UsageStore, tenantCap, warnPercent, criticalPercent int) *QuotaAlertService {
	return &QuotaAlertService{
		usage:           usage,
		tenantCap:       tenantCap,
		warnPercent:     warnPercent,
		criticalPercent: criticalPercent,
	}
}

// ScanTenants evaluates every tenant with usage today against the
// warn and critical thresholds. Per-tenant failures are logged and
// skipped so one bad row never hides the rest.
func (a *QuotaAlertService) ScanTenants(ctx context.Context) error {
	if a.tenantCap <= 0 {
		return nil
	}

	tenants, err := a.usage.ActiveTenantsToday(ctx)
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		used, err := a.usage.DailyTenantTokens(ctx, tenantID)
		if err != nil {
			logger.Error("quota alert scan failed for tenant", "tenant_id", tenantID, "error", err)
			continue
		}

		percent := used * 100 / a.tenantCap
		switch {
		case percent >= a.criticalPercent:
			logger.Error("tenant near daily token cap",
				"tenant_id", tenantID, "used", used, "cap", a.tenantCap, "percent", percent)
		case percent >= a.warnPercent:
			logger.Warn("tenant approaching daily token cap",
				"tenant_id", tenantID, "used", used, "cap", a.tenantCap, "percent", percent)
		}
	}
	return nil
}
