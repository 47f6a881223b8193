package confidence

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lazypower/lattice/internal/store"
)

func TestAttributeConfidenceRange(t *testing.T) {
	now := time.Now()
	cases := []struct {
		weight, reliability float64
		ageDays             float64
	}{
		{0, 0, 0},
		{1, 1, 0},
		{0.5, 0.7, 10},
		{1, 1, 10000},
		{0.01, 0.01, 365},
	}
	for _, tc := range cases {
		verified := now.Add(-time.Duration(tc.ageDays*24) * time.Hour).UnixMilli()
		got := AttributeConfidence(tc.weight, tc.reliability, verified, 365, now)
		if got < 0 || got > 1 {
			t.Errorf("AttributeConfidence(%v) = %f, out of [0,1]", tc, got)
		}
	}
}

func TestAttributeConfidenceDecreasesWithAge(t *testing.T) {
	now := time.Now()
	fresh := AttributeConfidence(1, 1, now.UnixMilli(), 365, now)
	year := AttributeConfidence(1, 1, now.Add(-365*24*time.Hour).UnixMilli(), 365, now)
	decade := AttributeConfidence(1, 1, now.Add(-3650*24*time.Hour).UnixMilli(), 365, now)

	if !(fresh > year && year > decade) {
		t.Errorf("confidence not strictly decreasing in age: %f, %f, %f", fresh, year, decade)
	}
	if decade <= 0 {
		t.Errorf("old fact = %f, must shrink but never reach zero", decade)
	}
}

func TestAttributeConfidenceRecencyFactor(t *testing.T) {
	// 400 days old with max_age_days = 365: recency factor exp(-400/365) ≈ 0.334
	now := time.Now()
	verified := now.Add(-400 * 24 * time.Hour).UnixMilli()

	got := AttributeConfidence(0.9, 0.8, verified, 365, now)
	want := 0.9 * 0.8 * math.Exp(-400.0/365.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence = %f, want %f", got, want)
	}
	if math.Abs(math.Exp(-400.0/365.0)-0.334) > 0.001 {
		t.Errorf("recency factor = %f, want ≈0.334", math.Exp(-400.0/365.0))
	}
}

func TestAttributeConfidenceFutureVerification(t *testing.T) {
	// A clock-skewed future timestamp clamps to zero age instead of boosting.
	now := time.Now()
	future := now.Add(24 * time.Hour).UnixMilli()
	got := AttributeConfidence(1, 1, future, 365, now)
	if got != 1 {
		t.Errorf("future-verified confidence = %f, want 1", got)
	}
}

func TestNodeConfidenceAverage(t *testing.T) {
	now := time.Now()
	attrs := []store.Attribute{
		{Weight: 1, SourceReliability: 1, LastVerified: now.UnixMilli()},
		{Weight: 0.5, SourceReliability: 1, LastVerified: now.UnixMilli()},
	}

	got, err := NodeConfidence(attrs, 365, now)
	if err != nil {
		t.Fatalf("NodeConfidence: %v", err)
	}
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("confidence = %f, want 0.75", got)
	}

	// Deterministic: same inputs, same output.
	again, _ := NodeConfidence(attrs, 365, now)
	if again != got {
		t.Errorf("recomputation drifted: %f vs %f", again, got)
	}
}

func TestNodeConfidenceInsufficientData(t *testing.T) {
	_, err := NodeConfidence(nil, 365, time.Now())
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestSharedAttributeFactorDefault(t *testing.T) {
	now := time.Now()
	source := []store.Attribute{{AttrType: "color", Value: "red", Weight: 1, SourceReliability: 1, LastVerified: now.UnixMilli()}}
	target := []store.Attribute{{AttrType: "color", Value: "blue", Weight: 1, SourceReliability: 1, LastVerified: now.UnixMilli()}}

	factor, shared := SharedAttributeFactor(source, target, 365, now)
	if shared != 0 {
		t.Errorf("shared = %d, want 0", shared)
	}
	if factor != 0.5 {
		t.Errorf("factor = %f, want 0.5 default with no overlap", factor)
	}
}

func TestSharedAttributeFactorOverlap(t *testing.T) {
	now := time.Now()
	ms := now.UnixMilli()
	source := []store.Attribute{
		{AttrType: "color", Value: "red", Weight: 1, SourceReliability: 1, LastVerified: ms},
		{AttrType: "lang", Value: "go", Weight: 0.5, SourceReliability: 1, LastVerified: ms},
	}
	target := []store.Attribute{
		{AttrType: "color", Value: "red", Weight: 1, SourceReliability: 1, LastVerified: ms},
		{AttrType: "lang", Value: "go", Weight: 1, SourceReliability: 1, LastVerified: ms},
		{AttrType: "city", Value: "london", Weight: 1, SourceReliability: 1, LastVerified: ms},
	}

	factor, shared := SharedAttributeFactor(source, target, 365, now)
	if shared != 2 {
		t.Errorf("shared = %d, want 2", shared)
	}
	// (1*1 + 0.5*1) / 2 = 0.75
	if math.Abs(factor-0.75) > 1e-9 {
		t.Errorf("factor = %f, want 0.75", factor)
	}
}

func TestRelationshipConfidenceClamped(t *testing.T) {
	if got := RelationshipConfidence(1, 1, 1, 1); got != 1 {
		t.Errorf("max inputs = %f, want 1", got)
	}
	if got := RelationshipConfidence(0.5, 0.8, 0.5, 0.6); math.Abs(got-0.12) > 1e-9 {
		t.Errorf("confidence = %f, want 0.12", got)
	}
	if got := RelationshipConfidence(0, 1, 1, 1); got != 0 {
		t.Errorf("zero strength = %f, want 0", got)
	}
}
