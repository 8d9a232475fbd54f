package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"arena-ai/backend/internal/model"
)

// maxUpdateAttempts bounds optimistic-lock retries of UpdateSession.
const maxUpdateAttempts = 100

type redisRepository struct {
	rdb redis.UniversalClient
}

func NewRedisRepository(rdb redis.UniversalClient) Repository {
	return &redisRepository{rdb: rdb}
}

// Key Generation Helpers
func (r *redisRepository) sessionKey(sessionID string) string { return fmt.Sprintf("session:%s", sessionID) }
func (r *redisRepository) conversationsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:conversations", sessionID)
}
func (r *redisRepository) conversationKey(turnID string) string {
	return fmt.Sprintf("conversation:%s", turnID)
}
func (r *redisRepository) responsesKey(turnID string) string {
	return fmt.Sprintf("conversation:%s:responses", turnID)
}

// --- Session Operations ---
func (r *redisRepository) CreateSession(ctx context.Context, s *model.SessionState) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}
	return r.rdb.Set(ctx, r.sessionKey(s.ID), doc, 0).Err()
}

func (r *redisRepository) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	raw, err := r.rdb.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s model.SessionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("could not decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

// UpdateSession uses WATCH/MULTI so a concurrent writer forces a re-read instead of a lost update.
func (r *redisRepository) UpdateSession(ctx context.Context, sessionID string, mutate MutateFunc) (*model.SessionState, error) {
	key := r.sessionKey(sessionID)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var updated *model.SessionState
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			var s model.SessionState
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("could not decode session %s: %w", sessionID, err)
			}
			if err := mutate(&s); err != nil {
				return err
			}
			doc, err := json.Marshal(&s)
			if err != nil {
				return fmt.Errorf("could not marshal session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, doc, 0)
				return nil
			})
			if err == nil {
				updated = &s
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("session %s: too many concurrent updates: %w", sessionID, redis.TxFailedErr)
}

// --- Conversation Operations ---
func (r *redisRepository) CreateConversation(ctx context.Context, turn *model.ConversationTurn) error {
	doc, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("could not marshal conversation: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.conversationKey(turn.ID), doc, 0)
	pipe.ZAdd(ctx, r.conversationsKey(turn.SessionID), redis.Z{Score: float64(turn.Timestamp.UnixNano()), Member: turn.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) ListConversations(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	ids, err := r.rdb.ZRange(ctx, r.conversationsKey(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	turns := make([]model.ConversationTurn, 0, len(ids))
	if len(ids) == 0 {
		return turns, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.conversationKey(id)
	}
	docs, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, doc := range docs {
		str, ok := doc.(string)
		if !ok {
			// The index can outlive an expired or deleted document.
			continue
		}
		var turn model.ConversationTurn
		if err := json.Unmarshal([]byte(str), &turn); err != nil {
			return nil, fmt.Errorf("could not decode conversation %s: %w", ids[i], err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// --- Response Operations ---
func (r *redisRepository) CreateResponse(ctx context.Context, conversationID string, resp *model.ProviderResponse) error {
	doc, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("could not marshal response: %w", err)
	}
	return r.rdb.RPush(ctx, r.responsesKey(conversationID), doc).Err()
}

func (r *redisRepository) ListResponses(ctx context.Context, conversationID string) ([]model.ProviderResponse, error) {
	docs, err := r.rdb.LRange(ctx, r.responsesKey(conversationID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	responses := make([]model.ProviderResponse, 0, len(docs))
	for _, doc := range docs {
		var resp model.ProviderResponse
		if err := json.Unmarshal([]byte(doc), &resp); err != nil {
			return nil, fmt.Errorf("could not decode response: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}
