package model

import (
	"fmt"
	"time"
)

// EDO is a recorded decision made when a charter chose among real
// alternatives. Append/update-only; never deleted by the protocol.
type EDO struct {
	ID           string    `json:"id"`
	CharterID    string    `json:"charter_id"`
	Alternatives []string  `json:"alternatives_considered"`
	Chosen       string    `json:"chosen"`
	Rationale    string    `json:"rationale"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Open indicates the decision thread is still open for updates by the
	// creating charter.
	Open bool `json:"open"`
	// Salt disambiguates the content-addressed id when a collision is
	// detected; empty for first-attempt ids.
	Salt string `json:"salt,omitempty"`
	// ContentHash is a tamper-evident SHA-256 digest of the canonical
	// record fields, versioned with a "v2:" prefix.
	ContentHash string `json:"content_hash"`
}

// Validate checks EDO field constraints. A record requires at least two
// alternatives: single-option or mechanical runs never produce an EDO.
func (e EDO) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("model: edo id is required")
	}
	if e.CharterID == "" {
		return fmt.Errorf("model: edo charter_id is required")
	}
	if len(e.Alternatives) < 2 {
		return fmt.Errorf("model: edo requires at least 2 alternatives, got %d", len(e.Alternatives))
	}
	if e.Chosen == "" {
		return fmt.Errorf("model: edo chosen is required")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("model: edo created_at is required")
	}
	return nil
}

// EDOIndex maps every decision id to its document path. The index is written
// in the same commit as the record it covers, so after any successful append
// or update it contains exactly the set of ids for which a record exists.
type EDOIndex struct {
	Entries   map[string]string `json:"entries"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewEDOIndex returns an empty index.
func NewEDOIndex() EDOIndex {
	return EDOIndex{Entries: map[string]string{}}
}
