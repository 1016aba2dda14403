package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// ErrRecordNotFound is returned when a user has no credential record.
var ErrRecordNotFound = errors.New("credential record not found")

// ErrRecordConflict is returned when a WATCH transaction keeps losing to
// concurrent writers after retries.
var ErrRecordConflict = errors.New("credential record write conflict")

// ErrRecordRedisUnavailable wraps Redis faults on credential records.
var ErrRecordRedisUnavailable = errors.New("credential record redis unavailable")

const updateMaxRetries = 4

// RecordStore persists [CredentialRecord] values. Every mutation goes
// through a WATCH transaction so concurrent migration workers and the
// resolver's materialization path cannot lose updates.
type RecordStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRecordStore creates a record store with the given namespace prefix.
func NewRecordStore(redisClient redis.UniversalClient, prefix string) *RecordStore {
	if prefix == "" {
		prefix = "ab"
	}
	return &RecordStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RecordStore) key(userID string) string {
	return s.prefix + ":rec:" + userID
}

func (s *RecordStore) indexKey() string {
	return s.prefix + ":rec:index"
}

// Get returns the record for a user, or [ErrRecordNotFound].
func (s *RecordStore) Get(ctx context.Context, userID string) (*CredentialRecord, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRecordRedisUnavailable, err)
	}
	return decodeCredentialRecord(data)
}

// Put writes a record unconditionally and indexes it. Used for seeding and
// snapshot restore; migration-path mutations go through [RecordStore.Update].
func (s *RecordStore) Put(ctx context.Context, rec *CredentialRecord) error {
	data, err := encodeCredentialRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.UserID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), rec.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecordRedisUnavailable, err)
	}
	return nil
}

// Update applies fn to the user's record inside a WATCH transaction,
// creating an empty record when none exists. fn returning an error aborts
// without writing.
func (s *RecordStore) Update(ctx context.Context, userID string, fn func(*CredentialRecord) error) error {
	key := s.key(userID)

	for i := 0; i < updateMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec := &CredentialRecord{UserID: userID}

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				if rec, err = decodeCredentialRecord(data); err != nil {
					return err
				}
			case errors.Is(err, redis.Nil):
				// keep the fresh record
			default:
				return fmt.Errorf("%w: %v", ErrRecordRedisUnavailable, err)
			}

			if err := fn(rec); err != nil {
				return err
			}

			encoded, err := encodeCredentialRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.SAdd(ctx, s.indexKey(), userID)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return ErrRecordConflict
}

// Materialize stashes a legacy session payload into the record and reports
// whether this call was the first writer. Repeated triggers from concurrent
// dual-mode resolutions are no-ops.
func (s *RecordStore) Materialize(ctx context.Context, userID, displayName, role string, now int64) (bool, error) {
	var stashed bool
	err := s.Update(ctx, userID, func(rec *CredentialRecord) error {
		stashed = false
		rec.HasLegacySession = true
		if rec.MaterializedAt != 0 {
			return nil
		}
		rec.SessionDisplayName = displayName
		rec.SessionRole = role
		rec.MaterializedAt = now
		stashed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return stashed, nil
}

// AllUserIDs returns every indexed user in stable order.
func (s *RecordStore) AllUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRecordRedisUnavailable, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// All returns every credential record.
func (s *RecordStore) All(ctx context.Context) ([]*CredentialRecord, error) {
	ids, err := s.AllUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]*CredentialRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ReplaceAll atomically swaps the full record set for the given one. Used by
// snapshot restore, where the snapshot is authoritative.
func (s *RecordStore) ReplaceAll(ctx context.Context, recs []*CredentialRecord) error {
	existing, err := s.AllUserIDs(ctx)
	if err != nil {
		return err
	}

	encoded := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		data, err := encodeCredentialRecord(rec)
		if err != nil {
			return err
		}
		encoded[rec.UserID] = data
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range existing {
			pipe.Del(ctx, s.key(id))
		}
		pipe.Del(ctx, s.indexKey())
		for id, data := range encoded {
			pipe.Set(ctx, s.key(id), data, 0)
			pipe.SAdd(ctx, s.indexKey(), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecordRedisUnavailable, err)
	}
	return nil
}
