package storage

import (
	"encoding/json"
	"errors"

	"recapture/internal/model"
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeDataset(d model.Dataset) ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDataset(data []byte) (model.Dataset, error) {
	var dataset model.Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return model.Dataset{}, err
	}
	if err := checkVersion(dataset.VersionedRecord); err != nil {
		return model.Dataset{}, err
	}
	return dataset, nil
}

func EncodePosteriorSummary(s model.PosteriorSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodePosteriorSummary(data []byte) (model.PosteriorSummary, error) {
	var summary model.PosteriorSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.PosteriorSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.PosteriorSummary{}, err
	}
	return summary, nil
}

func EncodeAbundance(t model.AbundanceTable) ([]byte, error) {
	return json.Marshal(t)
}

func DecodeAbundance(data []byte) (model.AbundanceTable, error) {
	var table model.AbundanceTable
	if err := json.Unmarshal(data, &table); err != nil {
		return model.AbundanceTable{}, err
	}
	if err := checkVersion(table.VersionedRecord); err != nil {
		return model.AbundanceTable{}, err
	}
	return table, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != model.CurrentSchemaVersion || v.CodecVersion != model.CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
