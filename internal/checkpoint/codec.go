package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// FormatVersion is written into every encoded checkpoint.
const FormatVersion = 1

type envelope struct {
	Version    int                `json:"version"`
	Checkpoint crawler.Checkpoint `json:"checkpoint"`
}

// Encode serializes a checkpoint for storage backends that keep opaque bytes.
func Encode(cp crawler.Checkpoint) ([]byte, error) {
	data, err := json.Marshal(envelope{Version: FormatVersion, Checkpoint: cp})
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Decode parses bytes written by Encode.
func Decode(data []byte) (crawler.Checkpoint, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return crawler.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if env.Version != FormatVersion {
		return crawler.Checkpoint{}, fmt.Errorf("decode checkpoint: unsupported version %d", env.Version)
	}
	return env.Checkpoint, nil
}
