package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix = "captcha:session:"
	createdIndexKey  = "captcha:sessions:created"
)

// RedisStore keeps sessions as JSON values with a sorted-set index on
// creation time for the reconciliation sweep. Create and Update run inside
// WATCH transactions so concurrent replicas cannot overwrite each other.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

type RedisOption func(*RedisStore)

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func redisKey(key models.SessionKey) string {
	return sessionKeyPrefix + indexMember(key)
}

func indexMember(key models.SessionKey) string {
	return strconv.FormatInt(key.ChatID, 10) + ":" + strconv.FormatInt(key.UserID, 10)
}

func parseIndexMember(member string) (models.SessionKey, bool) {
	chat, user, ok := strings.Cut(member, ":")
	if !ok {
		return models.SessionKey{}, false
	}
	chatID, err1 := strconv.ParseInt(chat, 10, 64)
	userID, err2 := strconv.ParseInt(user, 10, 64)
	if err1 != nil || err2 != nil {
		return models.SessionKey{}, false
	}
	return models.SessionKey{ChatID: chatID, UserID: userID}, true
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	key := redisKey(session.Key())
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, createdIndexKey, redis.Z{
				Score:  float64(session.CreatedAt.UnixMilli()),
				Member: indexMember(session.Key()),
			})
			return nil
		})
		return err
	}, key)
	return translateTxErr("create session", err)
}

func (s *RedisStore) Get(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	key := redisKey(session.Key())
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return sentinel.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	return translateTxErr("update session", err)
}

func (s *RedisStore) Delete(ctx context.Context, key models.SessionKey) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey(key))
		pipe.ZRem(ctx, createdIndexKey, indexMember(key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	members, err := s.client.ZRangeByScore(ctx, createdIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, sessionKeyPrefix+m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]*models.Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry outlived its session. Pruning is retried by the
			// next listing, so a failure here does not fail this one.
			if err := s.pruneIndex(ctx, members[i]); err != nil {
				s.logger.WarnContext(ctx, "failed to prune session index", "member", members[i], "error", err)
			}
			continue
		}
		var session models.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", members[i], err)
		}
		out = append(out, &session)
	}
	return out, nil
}

// pruneIndex removes member from the creation index only while its session
// key is still absent. A session re-created in the meantime keeps its entry.
func (s *RedisStore) pruneIndex(ctx context.Context, member string) error {
	key := sessionKeyPrefix + member
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, createdIndexKey, member)
			return nil
		})
		return err
	}, key)
	return translateTxErr("prune session index", err)
}

func translateTxErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrNotFound):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: concurrent modification: %w", op, sentinel.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
