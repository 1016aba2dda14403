package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	sessionFormatVersionCurrent = 1
)

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session blob corrupt")

func writeString(buf *bytes.Buffer, field, value string) error {
	if len(value) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(value)))
	buf.WriteString(value)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	size, err := reader.ReadByte()
	if err != nil {
		return "", ErrCorrupt
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", ErrCorrupt
	}
	return string(raw), nil
}

// Encode serializes a session into the current binary format. The SessionID
// is the Redis key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if err := writeString(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "displayName", s.DisplayName); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "role", s.Role); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	if version != sessionFormatVersionCurrent {
		return nil, ErrCorrupt
	}

	s := &Session{}

	if s.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.DisplayName, err = readString(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readString(reader); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrCorrupt
	}

	return s, nil
}
