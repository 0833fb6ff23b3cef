package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// indexSlack keeps the revocation index alive slightly longer than any
// session it can reference, so logout-all still sees entries whose records
// expired moments earlier.
const indexSlack = time.Hour

const (
	touchStatusGone    int64 = -1
	touchStatusNoOp    int64 = 0
	touchStatusRenewed int64 = 1
)

// touchScript is the atomic renew-if-needed round-trip. It checks the
// absolute ceiling, compares the remaining idle TTL against the renewal
// threshold, and either reports the remaining TTL or resets last_seen and
// extends the TTL to the full idle window capped at the ceiling.
//
// ARGV: now unix seconds, idle window ms, renewal threshold ms,
// session id, user index key prefix.
const touchScript = `
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return {-1, 0}
end

local now = tonumber(ARGV[1])
local abs = tonumber(redis.call("HGET", KEYS[1], "absolute_expires_at") or "0")
if abs > 0 and now >= abs then
  local uid = redis.call("HGET", KEYS[1], "user_id")
  redis.call("DEL", KEYS[1])
  if uid then
    redis.call("SREM", ARGV[5] .. uid, ARGV[4])
  end
  return {-1, 0}
end

if ttl > tonumber(ARGV[3]) then
  return {0, ttl}
end

local next_ttl = tonumber(ARGV[2])
if abs > 0 then
  local abs_ms = (abs - now) * 1000
  if abs_ms < next_ttl then
    next_ttl = abs_ms
  end
end
if next_ttl < 1000 then
  next_ttl = 1000
end

redis.call("HSET", KEYS[1], "last_seen", ARGV[1])
redis.call("PEXPIRE", KEYS[1], next_ttl)
return {1, next_ttl}
`

var touchLua = redis.NewScript(touchScript)

// destroyScript removes a session record and its index entry in one
// round-trip. ARGV: session id. KEYS: session key, user index key.
const destroyScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var destroyLua = redis.NewScript(destroyScript)

// setCSRFScript writes the server-side CSRF token only when the session
// still exists, so a raced-out logout cannot resurrect the key.
const setCSRFScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "csrf", ARGV[1])
return 1
`

var setCSRFLua = redis.NewScript(setCSRFScript)

// RedisStore is the distributed session backend. Every mutating operation
// is a single atomic round-trip (TxPipelined or Lua) so that two requests
// racing on the same session cannot lose an update. Redis TTL expiry is
// defense in depth; the absolute and idle checks are still computed here.
type RedisStore struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

// NewRedisStore creates a [RedisStore] backed by the given client. Prefer
// constructing through [New] so the backend choice stays a startup decision.
func NewRedisStore(client redis.UniversalClient, cfg Config) *RedisStore {
	return &RedisStore{
		redis: client,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.cfg.Prefix + ":sess:" + sessionID
}

func (s *RedisStore) userKey(userID int64) string {
	return s.cfg.Prefix + ":user:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) userKeyPrefix() string {
	return s.cfg.Prefix + ":user:"
}

// Create persists a fresh session with a TTL equal to the idle window and
// adds it to the user's revocation index as one transaction.
func (s *RedisStore) Create(ctx context.Context, userID int64) (*Session, error) {
	sess, err := newSession(userID, s.now(), s.cfg)
	if err != nil {
		return nil, err
	}

	sessionKey := s.key(sess.SessionID)
	userKey := s.userKey(userID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey, sessionFields(sess))
		pipe.PExpire(ctx, sessionKey, s.cfg.IdleWindow)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, s.cfg.AbsoluteLifetime+indexSlack)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return sess, nil
}

// Get retrieves a session and applies both lazy expiry checks, destroying
// the record when either fails.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	sess, err := decodeSession(sessionID, data)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	if now > sess.AbsoluteExpiresAt {
		if err := s.destroyIndexed(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	if now-sess.LastSeenAt > int64(s.cfg.IdleWindow/time.Second) {
		if err := s.destroyIndexed(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// Touch runs the renew-if-needed script; see [Store].
func (s *RedisStore) Touch(ctx context.Context, sessionID string) (TouchResult, error) {
	result, err := touchLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.now().Unix(),
		s.cfg.IdleWindow.Milliseconds(),
		s.cfg.RenewThreshold.Milliseconds(),
		sessionID,
		s.userKeyPrefix(),
	).Result()
	if err != nil {
		return TouchResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) < 2 {
		return TouchResult{}, fmt.Errorf("%w: invalid touch script response", ErrUnavailable)
	}

	status, ok := parts[0].(int64)
	if !ok {
		return TouchResult{}, fmt.Errorf("%w: invalid touch script status", ErrUnavailable)
	}
	ttlMillis, ok := parts[1].(int64)
	if !ok {
		return TouchResult{}, fmt.Errorf("%w: invalid touch script ttl", ErrUnavailable)
	}

	switch status {
	case touchStatusGone:
		return TouchResult{}, ErrNotFound
	case touchStatusNoOp:
		return TouchResult{IdleTTL: time.Duration(ttlMillis) * time.Millisecond}, nil
	case touchStatusRenewed:
		return TouchResult{Renewed: true, IdleTTL: time.Duration(ttlMillis) * time.Millisecond}, nil
	default:
		return TouchResult{}, fmt.Errorf("%w: unknown touch script status", ErrUnavailable)
	}
}

// SetCSRFToken stores the server-side CSRF token without disturbing the TTL.
func (s *RedisStore) SetCSRFToken(ctx context.Context, sessionID, token string) error {
	existed, err := setCSRFLua.Run(ctx, s.redis, []string{s.key(sessionID)}, token).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if existed == 0 {
		return ErrNotFound
	}
	return nil
}

// Destroy removes the session and its index entry. Missing sessions are not
// an error.
func (s *RedisStore) Destroy(ctx context.Context, sessionID string) error {
	uid, err := s.redis.HGet(ctx, s.key(sessionID), "user_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	userID, err := strconv.ParseInt(uid, 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}

	return s.destroyIndexed(ctx, userID, sessionID)
}

// DestroyAllForUser removes every session tracked for a user.
//
// ATOMICITY NOTE: this is NOT fully atomic. It reads the user's index
// (SMembers), counts which records still exist (pipeline EXISTS), then
// deletes them with the index (TxPipelined DEL). A session created between
// the read and delete phases is not captured; it will expire naturally or be
// caught by the next call. That race is acceptable for logout-all semantics.
func (s *RedisStore) DestroyAllForUser(ctx context.Context, userID int64) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	sessionKeys := make([]string, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(sid))
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(sessionKeys))
	for i, k := range sessionKeys {
		existsCmds[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var existing int
	for _, cmd := range existsCmds {
		v, cmdErr := cmd.Result()
		if cmdErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		existing += int(v)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return existing, nil
}

// ActiveSessionIDs returns the tracked session IDs for a user.
func (s *RedisStore) ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Rotate issues a fresh session for the old session's user, then destroys
// the old record. Create and destroy are each atomic; the pair is not, and
// does not need to be — the old id stays valid for at most the gap between
// the two round-trips.
func (s *RedisStore) Rotate(ctx context.Context, sessionID string) (*Session, error) {
	old, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	fresh, err := s.Create(ctx, old.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.destroyIndexed(ctx, old.UserID, sessionID); err != nil {
		return nil, err
	}

	return fresh, nil
}

// Ping is a point-in-time backend availability check.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) destroyIndexed(ctx context.Context, userID int64, sessionID string) error {
	keys := []string{s.key(sessionID), s.userKey(userID)}
	if _, err := destroyLua.Run(ctx, s.redis, keys, sessionID).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func sessionFields(sess *Session) map[string]interface{} {
	return map[string]interface{}{
		"user_id":             strconv.FormatInt(sess.UserID, 10),
		"created_at":          strconv.FormatInt(sess.CreatedAt, 10),
		"last_seen":           strconv.FormatInt(sess.LastSeenAt, 10),
		"absolute_expires_at": strconv.FormatInt(sess.AbsoluteExpiresAt, 10),
		"csrf":                sess.CSRFToken,
	}
}

func decodeSession(sessionID string, data map[string]string) (*Session, error) {
	userID, err := strconv.ParseInt(data["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}
	createdAt, err := strconv.ParseInt(data["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}
	lastSeen, err := strconv.ParseInt(data["last_seen"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}
	absoluteExpires, err := strconv.ParseInt(data["absolute_expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session record %q: %v", sessionID, err)
	}

	return &Session{
		SessionID:         sessionID,
		UserID:            userID,
		CreatedAt:         createdAt,
		LastSeenAt:        lastSeen,
		AbsoluteExpiresAt: absoluteExpires,
		CSRFToken:         data["csrf"],
	}, nil
}
