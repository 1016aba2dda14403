package migrate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordFormatVersionV1 = 1

const (
	flagHasLegacySession = 1 << 0
	flagMaterialized     = 1 << 1
)

// CredentialRecord is one user's migration status. Owned by the migration
// engine; the resolver reads it (and stashes the materialized session
// payload) but never decides migration state.
// JSON tags serve the snapshot capture format only; the record store itself
// uses the binary encoding below.
type CredentialRecord struct {
	UserID string `json:"user_id"`

	// HasLegacySession tracks whether a legacy session existed for the user
	// when the record was last written.
	HasLegacySession bool `json:"has_legacy_session,omitempty"`

	// TokenID references the bearer token issued by a successful migration.
	TokenID string `json:"token_id,omitempty"`

	// MigratedAt is zero until the user has been migrated.
	MigratedAt int64 `json:"migrated_at,omitempty"`

	// FailureReason holds the last migration failure, empty on success.
	FailureReason string `json:"failure_reason,omitempty"`

	// SessionDisplayName/SessionRole are the materialized legacy session
	// payload, stashed on a Dual-mode legacy hit so migration can translate
	// the payload without the user being online.
	SessionDisplayName string `json:"session_display_name,omitempty"`
	SessionRole        string `json:"session_role,omitempty"`
	MaterializedAt     int64  `json:"materialized_at,omitempty"`
}

// Migrated reports whether the record marks a completed migration.
func (r *CredentialRecord) Migrated() bool {
	return r.MigratedAt != 0
}

func encodeCredentialRecord(r *CredentialRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionV1)

	var flags byte
	if r.HasLegacySession {
		flags |= flagHasLegacySession
	}
	if r.MaterializedAt != 0 {
		flags |= flagMaterialized
	}
	buf.WriteByte(flags)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", r.UserID},
		{"tokenID", r.TokenID},
		{"failureReason", r.FailureReason},
		{"sessionDisplayName", r.SessionDisplayName},
		{"sessionRole", r.SessionRole},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	for _, ts := range []int64{r.MigratedAt, r.MaterializedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeCredentialRecord(data []byte) (*CredentialRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != recordFormatVersionV1 {
		return nil, errors.New("invalid credential record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, errors.New("credential record corrupt")
	}

	r := &CredentialRecord{
		HasLegacySession: flags&flagHasLegacySession != 0,
	}

	for _, dst := range []*string{
		&r.UserID, &r.TokenID, &r.FailureReason,
		&r.SessionDisplayName, &r.SessionRole,
	} {
		size, err := reader.ReadByte()
		if err != nil {
			return nil, errors.New("credential record corrupt")
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, errors.New("credential record corrupt")
		}
		*dst = string(raw)
	}

	for _, dst := range []*int64{&r.MigratedAt, &r.MaterializedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, errors.New("credential record corrupt")
		}
	}

	return r, nil
}
