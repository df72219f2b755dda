package pgstore

import (
	"encoding/json"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func marshalLoader(l domain.Loader) ([]byte, error) {
	return json.Marshal(l)
}

func unmarshalLoader(b []byte) (*domain.Loader, error) {
	var l domain.Loader
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
