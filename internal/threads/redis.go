package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps threads, messages and summaries in Redis. Threads and messages are
// JSON strings; a thread's message ids and summaries are lists in insertion order.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) threadKey(id string) string    { return r.prefix + "thread:" + id }
func (r *RedisStore) messagesKey(id string) string  { return r.prefix + "thread:" + id + ":messages" }
func (r *RedisStore) summariesKey(id string) string { return r.prefix + "thread:" + id + ":summaries" }
func (r *RedisStore) childrenKey(id string) string  { return r.prefix + "thread:" + id + ":children" }
func (r *RedisStore) messageKey(id string) string   { return r.prefix + "message:" + id }
func (r *RedisStore) userKey(id string) string      { return r.prefix + "user:" + id + ":threads" }

// SaveThread writes t and its user and parent index entries.
func (r *RedisStore) SaveThread(ctx context.Context, t Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.threadKey(t.ID), data, 0)
		if t.UserID != "" {
			p.SAdd(ctx, r.userKey(t.UserID), t.ID)
		}
		if t.ParentThreadID != "" {
			p.SAdd(ctx, r.childrenKey(t.ParentThreadID), t.ID)
		}
		return nil
	})
	return err
}

func (r *RedisStore) GetThread(ctx context.Context, id string) (Thread, error) {
	val, err := r.client.Get(ctx, r.threadKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, err
	}
	var t Thread
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return Thread{}, fmt.Errorf("decode thread %s: %w", id, err)
	}
	return t, nil
}

// UserThreads returns the ids of every thread created for userID.
func (r *RedisStore) UserThreads(ctx context.Context, userID string) ([]string, error) {
	return r.client.SMembers(ctx, r.userKey(userID)).Result()
}

// SubThreads returns the ids of threads whose parent is id.
func (r *RedisStore) SubThreads(ctx context.Context, id string) ([]string, error) {
	return r.client.SMembers(ctx, r.childrenKey(id)).Result()
}

// AppendMessage stores m and appends its id to the thread's message list.
func (r *RedisStore) AppendMessage(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.messageKey(m.ID), data, 0)
		p.RPush(ctx, r.messagesKey(m.ThreadID), m.ID)
		return nil
	})
	return err
}

// Messages returns messages start..stop of the thread (inclusive, negative indexes
// count from the end, as in LRANGE).
func (r *RedisStore) Messages(ctx context.Context, threadID string, start, stop int64) ([]Message, error) {
	ids, err := r.client.LRange(ctx, r.messagesKey(threadID), start, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Message{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.messageKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// dangling id, message body missing
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", ids[i], err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisStore) AddSummary(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.summariesKey(s.ThreadID), data).Err()
}

// Summaries returns the thread's summaries, oldest first.
func (r *RedisStore) Summaries(ctx context.Context, threadID string) ([]Summary, error) {
	vals, err := r.client.LRange(ctx, r.summariesKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(vals))
	for _, v := range vals {
		var s Summary
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
