package models

import "time"

// Scope identifies the (tenant, project) pair that isolates one
// customer's data from another's. Every point written to the vector
// index and every search carries a Scope.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
}

// Document is the metadata row for an ingested file. The SHA-256 of
// the raw bytes identifies the content; re-ingesting identical bytes
// produces the same chunk set.
type Document struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id"`
	Filename  string    `json:"filename"`
	SHA256    string    `json:"sha256"`
	Pages     int       `json:"pages"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRecord is one append-only ledger entry. Entries are never
// updated or deleted; daily totals are aggregated over a
// day-truncated timestamp window.
type UsageRecord struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// QuotaStatus reports current daily consumption against a cap for one
// scope (tenant or user).
type QuotaStatus struct {
	Used int `json:"used"`
	Cap  int `json:"cap"`
}
