package storage

import (
	"errors"
	"testing"

	"recapture/internal/model"
)

func TestDatasetCodecVersionCheck(t *testing.T) {
	dataset := model.Dataset{
		VersionedRecord: model.CurrentVersion(),
		ID:              "d1",
		Grid:            model.OccasionGrid{Primaries: 1, Secondaries: []int{5}},
	}
	payload, err := EncodeDataset(dataset)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeDataset(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != "d1" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}

	stale := dataset
	stale.SchemaVersion = 99
	payload, _ = EncodeDataset(stale)
	if _, err := DecodeDataset(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestPosteriorSummaryCodec(t *testing.T) {
	summary := model.PosteriorSummary{
		VersionedRecord: model.CurrentVersion(),
		RunID:           "r1",
		Warnings:        []string{"chains disagree on gamma"},
	}
	payload, err := EncodePosteriorSummary(summary)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePosteriorSummary(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Warnings) != 1 {
		t.Fatalf("warnings lost in round trip: %+v", decoded)
	}
}
