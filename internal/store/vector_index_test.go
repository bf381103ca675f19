package store

import (
	"errors"
	"math"
	"strings"
	"testing"

	"kb-retriever/models"
	"kb-retriever/services"
)

func validPoint(id string) models.IndexedPoint {
	return models.IndexedPoint{
		ID:     id,
		Vector: []float32{0.1, 0.2, 0.3},
		Payload: models.PointPayload{
			TenantID:   "t1",
			ProjectID:  "kb",
			DocumentID: "doc-1",
			Filename:   "a.pdf",
			Snippet:    "snippet",
		},
	}
}

func TestValidatePointsAccepts(t *testing.T) {
	points := []models.IndexedPoint{validPoint("p1"), validPoint("p2")}
	if err := validatePoints(points, 3); err != nil {
		t.Fatalf("validatePoints = %v, want nil", err)
	}
}

func TestValidatePointsWrongDimension(t *testing.T) {
	p := validPoint("p1")
	p.Vector = []float32{0.1, 0.2}

	err := validatePoints([]models.IndexedPoint{p}, 3)
	var vErr *services.VectorValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want VectorValidationError", err)
	}
	if vErr.PointID != "p1" {
		t.Errorf("PointID = %q, want p1", vErr.PointID)
	}
}

func TestValidatePointsNonFinite(t *testing.T) {
	for _, bad := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		p := validPoint("p1")
		p.Vector[1] = bad

		err := validatePoints([]models.IndexedPoint{p}, 3)
		var vErr *services.VectorValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("value %v: err = %v, want VectorValidationError", bad, err)
		}
		if !strings.Contains(vErr.Detail, "non-finite") {
			t.Errorf("Detail = %q, want non-finite diagnostic", vErr.Detail)
		}
	}
}

func TestValidatePointsMissingScope(t *testing.T) {
	p := validPoint("p1")
	p.Payload.TenantID = ""

	err := validatePoints([]models.IndexedPoint{p}, 3)
	var vErr *services.VectorValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want VectorValidationError", err)
	}
}

// A single bad point anywhere rejects the whole batch.
func TestValidatePointsRejectsWholeBatch(t *testing.T) {
	bad := validPoint("p3")
	bad.Vector = nil
	points := []models.IndexedPoint{validPoint("p1"), validPoint("p2"), bad}

	err := validatePoints(points, 3)
	var vErr *services.VectorValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want VectorValidationError", err)
	}
	if vErr.PointID != "p3" {
		t.Errorf("PointID = %q, want p3", vErr.PointID)
	}
}
