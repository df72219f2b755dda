package sqlitestore

import (
	"encoding/json"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

// marshalLoader/unmarshalLoader serialize a Loader snapshot for storage in
// loader_archive.loader_json. JSON keeps the archive human-inspectable,
// unlike a binary encoding, which matters for an audit trail.
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
