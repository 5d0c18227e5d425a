// Package locks keeps short-lived, per-section edit locks in Redis and fans
// lock and content changes out to subscribers over Redis Pub/Sub.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a lock survives without renewal.
const DefaultTTL = 2 * time.Minute

var ErrLockHeld = errors.New("section is locked by another user")

// HeldError reports the lock that blocked an acquire.
type HeldError struct {
	Lock Lock
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("section %s is locked by %s", e.Lock.SectionID, e.Lock.HolderName)
}

func (e *HeldError) Unwrap() error { return ErrLockHeld }

// Holder identifies the user claiming a section.
type Holder struct {
	ID   string
	Name string
}

type Lock struct {
	DocumentID string    `json:"documentId"`
	SectionID  string    `json:"sectionId"`
	HolderID   string    `json:"holderId"`
	HolderName string    `json:"holderName"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Active reports whether the lock is still in force at now.
func (l Lock) Active(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// acquireScript takes the lock unless another holder's entry is unexpired.
// KEYS: lock hash, document index. ARGV: holder id, holder name, expiresAt ms,
// now ms, ttl ms, section id.
var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holderId')
if holder and holder ~= ARGV[1] then
  local expires = tonumber(redis.call('HGET', KEYS[1], 'expiresAt') or '0')
  if expires > tonumber(ARGV[4]) then
    return 0
  end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'holderId', ARGV[1], 'holderName', ARGV[2], 'expiresAt', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[6])
return 1
`)

// releaseScript deletes the lock only when it belongs to the caller.
var releaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holderId')
if not holder then
  redis.call('SREM', KEYS[2], ARGV[2])
  return 0
end
if holder ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

var renewScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holderId')
if holder ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'expiresAt', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Store is the Redis-backed lock table. Each lock is a hash keyed by
// (document, section) and every document keeps an index set of its locked
// section ids.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: client,
		prefix: "sgid:lock:",
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for expiry decisions.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) lockKey(documentID, sectionID string) string {
	return s.prefix + documentID + ":" + sectionID
}

func (s *Store) indexKey(documentID string) string {
	return s.prefix + "index:" + documentID
}

// Acquire releases any other lock the holder has on the document and then
// claims sectionID. A HeldError is returned when someone else holds it.
func (s *Store) Acquire(ctx context.Context, documentID, sectionID string, holder Holder) (Lock, error) {
	active, err := s.List(ctx, documentID)
	if err != nil {
		return Lock{}, err
	}
	for _, lock := range active {
		if lock.HolderID == holder.ID && lock.SectionID != sectionID {
			if err := s.Release(ctx, documentID, lock.SectionID, holder.ID); err != nil {
				return Lock{}, err
			}
		}
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	ok, err := acquireScript.Run(ctx, s.client,
		[]string{s.lockKey(documentID, sectionID), s.indexKey(documentID)},
		holder.ID, holder.Name, expiresAt.UnixMilli(), now.UnixMilli(), s.ttl.Milliseconds(), sectionID,
	).Int()
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	if ok == 0 {
		current, found, err := s.get(ctx, documentID, sectionID)
		if err != nil {
			return Lock{}, err
		}
		if !found {
			current = Lock{DocumentID: documentID, SectionID: sectionID}
		}
		return Lock{}, &HeldError{Lock: current}
	}
	return Lock{
		DocumentID: documentID,
		SectionID:  sectionID,
		HolderID:   holder.ID,
		HolderName: holder.Name,
		ExpiresAt:  time.UnixMilli(expiresAt.UnixMilli()),
	}, nil
}

// Release is idempotent: a missing, expired, or foreign lock is left alone.
func (s *Store) Release(ctx context.Context, documentID, sectionID, holderID string) error {
	err := releaseScript.Run(ctx, s.client,
		[]string{s.lockKey(documentID, sectionID), s.indexKey(documentID)},
		holderID, sectionID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ReleaseAll drops every lock the holder has on the document, expired or not.
func (s *Store) ReleaseAll(ctx context.Context, documentID, holderID string) error {
	sectionIDs, err := s.client.SMembers(ctx, s.indexKey(documentID)).Result()
	if err != nil {
		return fmt.Errorf("list lock index: %w", err)
	}
	for _, sectionID := range sectionIDs {
		if err := s.Release(ctx, documentID, sectionID, holderID); err != nil {
			return err
		}
	}
	return nil
}

// Renew pushes the expiry of a held lock forward by the store TTL. It reports
// false when the caller no longer holds the lock.
func (s *Store) Renew(ctx context.Context, documentID, sectionID, holderID string) (bool, error) {
	expiresAt := s.now().Add(s.ttl)
	ok, err := renewScript.Run(ctx, s.client,
		[]string{s.lockKey(documentID, sectionID)},
		holderID, expiresAt.UnixMilli(), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return ok == 1, nil
}

// List returns the document's unexpired locks ordered by section id. Entries
// past their expiry are treated as absent even if Redis still has them.
func (s *Store) List(ctx context.Context, documentID string) ([]Lock, error) {
	sectionIDs, err := s.client.SMembers(ctx, s.indexKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list lock index: %w", err)
	}
	if len(sectionIDs) == 0 {
		return []Lock{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sectionIDs))
	for i, sectionID := range sectionIDs {
		cmds[i] = pipe.HGetAll(ctx, s.lockKey(documentID, sectionID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load locks: %w", err)
	}

	now := s.now()
	out := make([]Lock, 0, len(sectionIDs))
	var stale []any
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("load lock %s: %w", sectionIDs[i], err)
		}
		if len(fields) == 0 {
			stale = append(stale, sectionIDs[i])
			continue
		}
		lock := decodeLock(documentID, sectionIDs[i], fields)
		if lock.Active(now) {
			out = append(out, lock)
		}
	}
	if len(stale) > 0 {
		// Keys that Redis already expired; the index entry is all that is left.
		_ = s.client.SRem(ctx, s.indexKey(documentID), stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	return out, nil
}

// Holding returns the active lock on a section, if any.
func (s *Store) Holding(ctx context.Context, documentID, sectionID string) (Lock, bool, error) {
	lock, found, err := s.get(ctx, documentID, sectionID)
	if err != nil || !found {
		return Lock{}, false, err
	}
	if !lock.Active(s.now()) {
		return Lock{}, false, nil
	}
	return lock, true, nil
}

func (s *Store) get(ctx context.Context, documentID, sectionID string) (Lock, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.lockKey(documentID, sectionID)).Result()
	if err != nil {
		return Lock{}, false, fmt.Errorf("load lock: %w", err)
	}
	if len(fields) == 0 {
		return Lock{}, false, nil
	}
	return decodeLock(documentID, sectionID, fields), true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeLock(documentID, sectionID string, fields map[string]string) Lock {
	expiresMs, _ := strconv.ParseInt(fields["expiresAt"], 10, 64)
	return Lock{
		DocumentID: documentID,
		SectionID:  sectionID,
		HolderID:   fields["holderId"],
		HolderName: fields["holderName"],
		ExpiresAt:  time.UnixMilli(expiresMs),
	}
}
