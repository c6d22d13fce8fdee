package wear

import (
	"encoding/json"
	"fmt"
)

// SyncPath is the fixed data-item path shared by phone and watch.
const SyncPath = "/wealthwatcher/networth"

// SyncPayload is the key-value item replicated across the device channel.
// The phone is the source of truth; the watch only renders what it receives.
// SentAt increases monotonically per sender so duplicates and reordering are
// detectable; RequestSync marks a watch-originated pull request.
type SyncPayload struct {
	TotalAssets float64 `json:"total_assets"`
	UpdatedAt   int64   `json:"updated_at"` // epoch millis
	HasError    bool    `json:"has_error"`
	SentAt      int64   `json:"sent_at"` // epoch millis, monotonic per sender
	RequestSync bool    `json:"request_sync"`
}

// Encode serialises the payload for the channel.
func (p SyncPayload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode sync payload: %w", err)
	}
	return data, nil
}

// DecodePayload parses a channel item.
func DecodePayload(data []byte) (SyncPayload, error) {
	var p SyncPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return SyncPayload{}, fmt.Errorf("decode sync payload: %w", err)
	}
	return p, nil
}
