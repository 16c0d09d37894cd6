// Package memo persists the small per-region account memo: credentials,
// sequencing state, and an optional single-use resume blob. Loading
// tolerates a missing or corrupt file the same way pkg/cron/store.go's
// LoadCronStore never fails a caller just because the file on disk hasn't
// been written yet.
package memo

import (
	"fmt"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/lanternkey/astool/pkg/cacheio"
)

// FastResumeBlob lets a new SessionEngine hydrate straight into
// Authenticated without a handshake. Single-use: Memo.ResumeBlob is cleared
// whenever a new one is written, per the SPE's single-use invariant.
type FastResumeBlob struct {
	SessionKeyB64   string `json:"session_key_b64"`
	LastRequestID   int64  `json:"last_request_id"`
	MasterVersion   string `json:"master_version"`
	DeviceToken     string `json:"device_token"`
}

// Memo is the mutable, persisted per-region account state.
type Memo struct {
	UserID                   int64            `json:"user_id,omitempty"`
	AuthorizationKeyB64      string           `json:"authorization_key_b64,omitempty"`
	AuthCount                int64            `json:"auth_count,omitempty"`
	LastMasterVersion        string           `json:"last_master_version,omitempty"`
	LastCompleteMasterVersion string          `json:"last_complete_master_version,omitempty"`
	ResumeBlob               *FastResumeBlob  `json:"resume_blob,omitempty"`
}

// HasCredentials reports whether the memo carries a full credential triple.
// The invariant is all-or-nothing: {UserID, AuthorizationKeyB64, AuthCount}
// are present together or not at all.
func (m *Memo) HasCredentials() bool {
	return m.UserID != 0 && m.AuthorizationKeyB64 != "" && m.AuthCount != 0
}

// checkInvariant validates the all-or-nothing credential triple before a
// Memo is persisted, so a half-written memo never reaches disk.
func checkInvariant(m *Memo) error {
	have := 0
	if m.UserID != 0 {
		have++
	}
	if m.AuthorizationKeyB64 != "" {
		have++
	}
	if m.AuthCount != 0 {
		have++
	}
	if have != 0 && have != 3 {
		return fmt.Errorf("memo: credential triple must be all-or-nothing, got %d/3 fields set", have)
	}
	return nil
}

// Load reads path as JSON5, tolerating a missing or unparsable file by
// returning a zero-value Memo instead of an error.
func Load(path string) (*Memo, error) {
	data, found, err := cacheio.ReadIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("memo: read %s: %w", path, err)
	}
	if !found {
		return &Memo{}, nil
	}
	var m Memo
	if err := json5.Unmarshal(data, &m); err != nil {
		return &Memo{}, nil
	}
	return &m, nil
}

// Save atomically writes m to path as JSON5, after checking the
// all-or-nothing credential invariant.
func Save(path string, m *Memo) error {
	if err := checkInvariant(m); err != nil {
		return err
	}
	data, err := json5.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("memo: marshal: %w", err)
	}
	return cacheio.AtomicWriteFile(path, data, 0o644)
}
