package catalog

import (
	"launchpad/internal/codec"
)

// manifestBlob holds the manifest fields that have no column of their own.
type manifestBlob struct {
	Metadata map[string]any `cbor:"metadata,omitempty"`
}

func encodeBlob(metadata map[string]any) ([]byte, error) {
	return codec.Marshal(manifestBlob{Metadata: metadata})
}

func decodeBlob(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var b manifestBlob
	if err := codec.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return b.Metadata, nil
}
