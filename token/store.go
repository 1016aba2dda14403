package token

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBridge/internal"
)

const recordFormatVersionV1 = 1

// ErrNotFound is returned when a token verifies cryptographically but its
// revocation record is gone: revoked, or never issued by this deployment.
var ErrNotFound = errors.New("token record not found")

// ErrExpired is returned for tokens past their expiry claim.
var ErrExpired = errors.New("token expired")

// ErrInvalid is returned for garbled or mis-signed tokens.
var ErrInvalid = errors.New("token invalid")

// ErrRedisUnavailable wraps Redis faults. Callers must never interpret it as
// a missing token.
var ErrRedisUnavailable = errors.New("token redis unavailable")

// Record is the server-side state of one issued bearer token.
type Record struct {
	TokenID     string
	UserID      string
	DisplayName string
	Role        string
	IssuedAt    int64
	ExpiresAt   int64
}

// Handle is returned to the caller of Issue: the signed bearer string plus
// the record identity needed for later revocation.
type Handle struct {
	TokenID   string
	Bearer    string
	ExpiresAt int64
}

// Store issues and resolves bearer tokens: JWT signing via [Manager], record
// state and per-user index in Redis.
type Store struct {
	redis   redis.UniversalClient
	manager *Manager
	prefix  string
}

// NewStore creates a token [Store] with the given key namespace prefix.
func NewStore(redisClient redis.UniversalClient, manager *Manager, prefix string) *Store {
	if prefix == "" {
		prefix = "ab"
	}
	return &Store{
		redis:   redisClient,
		manager: manager,
		prefix:  prefix,
	}
}

func (s *Store) key(tokenID string) string {
	return s.prefix + ":tok:" + tokenID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":utok:" + userID
}

// Issue mints a bearer token for the user, persists its revocation record,
// and returns the signed handle. The record TTL matches the token lifetime.
func (s *Store) Issue(ctx context.Context, userID, displayName, role string) (*Handle, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}
	tokenID := id.String()

	now := time.Now()
	rec := &Record{
		TokenID:     tokenID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(s.manager.TTL()).Unix(),
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	bearer, err := s.manager.Sign(userID, tokenID, displayName, role, now)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenID), data, s.manager.TTL())
		pipe.SAdd(ctx, s.userKey(userID), tokenID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return &Handle{
		TokenID:   tokenID,
		Bearer:    bearer,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Resolve verifies a presented bearer string and returns its live record.
// Expiry and signature failures are expected outcomes ([ErrExpired],
// [ErrInvalid]); a verified token without a record reports [ErrNotFound].
func (s *Store) Resolve(ctx context.Context, bearer string) (*Record, error) {
	claims, err := s.manager.Parse(bearer)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	data, err := s.redis.Get(ctx, s.key(claims.TID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	rec.TokenID = claims.TID

	if rec.UserID != claims.UID {
		return nil, ErrInvalid
	}

	return rec, nil
}

// Revoke removes a single token record. Revoking an absent record is a
// no-op.
func (s *Store) Revoke(ctx context.Context, userID, tokenID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(tokenID))
		pipe.SRem(ctx, s.userKey(userID), tokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll removes every live token record for a user and returns how many
// were still present.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	tokenIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(tokenIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		keys = append(keys, s.key(tokenID))
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(delCmd.Val()), nil
}

// ActiveTokenIDs returns the tracked live token IDs for a user.
func (s *Store) ActiveTokenIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

func encodeRecord(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionV1)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", r.UserID},
		{"displayName", r.DisplayName},
		{"role", r.Role},
	} {
		if len(field.value) > 255 {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	if err := binary.Write(&buf, binary.BigEndian, r.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != recordFormatVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	r := &Record{}
	for _, dst := range []*string{&r.UserID, &r.DisplayName, &r.Role} {
		size, err := reader.ReadByte()
		if err != nil {
			return nil, errors.New("token record corrupt")
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, errors.New("token record corrupt")
		}
		*dst = string(raw)
	}

	if err := binary.Read(reader, binary.BigEndian, &r.IssuedAt); err != nil {
		return nil, errors.New("token record corrupt")
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, errors.New("token record corrupt")
	}

	return r, nil
}
