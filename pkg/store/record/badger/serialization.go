package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittoshare/pkg/store/record"
)

// encodeRecord serializes a record for storage.
//
// JSON keeps the stored values readable with badger's CLI tools and matches
// the representation used in the cache layer.
func encodeRecord(rec *record.FileRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record.FileRecord, error) {
	var rec record.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
