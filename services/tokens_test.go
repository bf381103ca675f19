package services

import (
	"strings"
	"testing"
)

func TestProjectIngestScalesWithLength(t *testing.T) {
	te := NewTokenEstimator()

	if got := te.ProjectIngest(strings.Repeat("a", 300)); got != 100 {
		t.Errorf("ProjectIngest(300 chars) = %d, want 100", got)
	}
}

func TestProjectIngestCapped(t *testing.T) {
	te := NewTokenEstimator()

	if got := te.ProjectIngest(strings.Repeat("a", 1_000_000)); got != ingestProjectionCap {
		t.Errorf("ProjectIngest(1MB) = %d, want cap %d", got, ingestProjectionCap)
	}
}

func TestProjectAskIncludesResponseAllowance(t *testing.T) {
	te := NewTokenEstimator()

	got := te.ProjectAsk("what is the refund policy")
	if got <= 1000 {
		t.Errorf("ProjectAsk = %d, want query tokens on top of the 1000 allowance", got)
	}
	if got > 1100 {
		t.Errorf("ProjectAsk = %d, implausibly large for a short query", got)
	}
}
