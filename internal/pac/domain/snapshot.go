package domain

import "time"

// Snapshot describes one successfully rendered and published PAC script.
type Snapshot struct {
	Version   uint64    `json:"version"`
	Mode      Mode      `json:"mode"`
	Source    string    `json:"source"`
	Artifact  string    `json:"artifact"`
	UpdatedAt time.Time `json:"updated_at"`
	Rules     int       `json:"rules"`
	Domains   int       `json:"domains"`
	Bytes     int       `json:"bytes"`
	SHA256    string    `json:"sha256"`
}
