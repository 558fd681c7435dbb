// Package redis implements core.HistoryStore on Redis.
//
// Keys (all under a configurable prefix):
//
//	{prefix}:session:{id}  JSON session record
//	{prefix}:sessions      sorted set of session ids scored by creation time
//	{prefix}:log:{id}      list of JSON messages in append order
//
// Append uses WATCH on the log key so the order check and the RPUSH commit
// atomically; concurrent writers retry on conflict.
//
// A successful write is acknowledged once Redis has applied it in memory.
// Whether it survives a server crash depends on the server's persistence
// settings (appendonly, appendfsync). Set Options.WaitAOF to block each
// write until the AOF has been fsynced locally (WAITAOF, Redis 7.2+); a
// missing acknowledgement is reported as a durability failure.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history"
	"github.com/hupe1980/agentexchange/logging"
	goredis "github.com/redis/go-redis/v9"
)

const maxTxRetries = 8

// Options configures the Redis store.
type Options struct {
	Prefix string
	Logger logging.Logger
	// WaitAOF is the number of local AOF fsync acknowledgements required
	// after each write. Zero disables the check.
	WaitAOF int
	// AOFTimeout bounds the WAITAOF call. Zero blocks until acknowledged.
	AOFTimeout time.Duration
}

// Store is a HistoryStore backed by a Redis client.
type Store struct {
	rdb        goredis.UniversalClient
	prefix     string
	logger     logging.Logger
	waitAOF    int
	aofTimeout time.Duration
}

// New wraps an existing client. The caller keeps ownership of connection
// settings; Close closes the client.
func New(rdb goredis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{Prefix: "agentexchange", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		rdb:        rdb,
		prefix:     opts.Prefix,
		logger:     opts.Logger,
		waitAOF:    opts.WaitAOF,
		aofTimeout: opts.AOFTimeout,
	}
}

// Dial connects to addr and verifies the server is reachable.
func Dial(ctx context.Context, addr, password string, db int, optFns ...func(o *Options)) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, durability("dial", err)
	}
	return New(rdb, optFns...), nil
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *Store) indexKey() string            { return s.prefix + ":sessions" }
func (s *Store) logKey(id string) string     { return s.prefix + ":log:" + id }

// SaveSession writes the metadata record and indexes it by creation time.
func (s *Store) SaveSession(ctx context.Context, sess core.Session) error {
	if sess.ID == "" {
		return core.Errorf(core.KindInvalidInput, "save session", "session id is required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return durability("save session", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(sess.ID), data, 0)
		p.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(sess.CreatedAt.UnixNano()), Member: sess.ID})
		return nil
	})
	if err != nil {
		return durability("save session", err)
	}
	return s.syncAOF(ctx, "save session")
}

// GetSession loads one metadata record.
func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return core.Session{}, core.Errorf(core.KindNotFound, "get session", "session %s not found", id)
	}
	if err != nil {
		return core.Session{}, durability("get session", err)
	}
	var sess core.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return core.Session{}, durability("get session", err)
	}
	return sess, nil
}

// ListSessions returns all indexed sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]core.Session, error) {
	ids, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, durability("list sessions", err)
	}
	out := make([]core.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			// Cleared between ZRANGE and GET.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	history.SortSessions(out)
	return out, nil
}

// Append pushes msg onto the session log after checking its order against
// the last element, inside a WATCH transaction.
func (s *Store) Append(ctx context.Context, sessionID string, msg core.Message) error {
	m := msg.Clone()
	m.SessionID = sessionID
	data, err := json.Marshal(m)
	if err != nil {
		return durability("append", err)
	}

	logKey, sessKey := s.logKey(sessionID), s.sessionKey(sessionID)
	txf := func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, sessKey).Result()
		if err != nil {
			return durability("append", err)
		}
		if exists == 0 {
			return core.Errorf(core.KindNotFound, "append", "session %s not found", sessionID)
		}
		var last int64
		tail, err := tx.LIndex(ctx, logKey, -1).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return durability("append", err)
		default:
			var prev core.Message
			if err := json.Unmarshal(tail, &prev); err != nil {
				return durability("append", err)
			}
			last = prev.Order
		}
		if err := history.CheckAppend(sessionID, last, msg); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.RPush(ctx, logKey, data)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.rdb.Watch(ctx, txf, logKey, sessKey)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
		s.logger.Debug("redis append conflict, retrying", "session_id", sessionID, "attempt", i+1)
	}
	if err == nil {
		return s.syncAOF(ctx, "append")
	}
	if core.KindOf(err) != "" {
		return err
	}
	return durability("append", err)
}

// Load returns the full ordered log.
func (s *Store) Load(ctx context.Context, sessionID string) ([]core.Message, error) {
	exists, err := s.rdb.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, durability("load", err)
	}
	if exists == 0 {
		return nil, core.Errorf(core.KindNotFound, "load", "session %s not found", sessionID)
	}
	items, err := s.rdb.LRange(ctx, s.logKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, durability("load", err)
	}
	out := make([]core.Message, 0, len(items))
	for _, item := range items {
		var m core.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, durability("load", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Clear permanently deletes the session's log, record and index entry.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	var removed *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		removed = p.Del(ctx, s.sessionKey(sessionID))
		p.Del(ctx, s.logKey(sessionID))
		p.ZRem(ctx, s.indexKey(), sessionID)
		return nil
	})
	if err != nil {
		return durability("clear", err)
	}
	if removed.Val() == 0 {
		return core.Errorf(core.KindNotFound, "clear", "session %s not found", sessionID)
	}
	s.logger.Warn("session history cleared", "session_id", sessionID)
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

// syncAOF waits for the configured number of local AOF fsyncs.
func (s *Store) syncAOF(ctx context.Context, op string) error {
	if s.waitAOF <= 0 {
		return nil
	}
	acks, err := s.rdb.Do(ctx, "WAITAOF", s.waitAOF, 0, s.aofTimeout.Milliseconds()).Int64Slice()
	return checkAOF(op, s.waitAOF, acks, err)
}

// checkAOF interprets a WAITAOF reply of [numlocal, numreplicas].
func checkAOF(op string, want int, acks []int64, err error) error {
	if err != nil {
		return durability(op, err)
	}
	if len(acks) == 0 || acks[0] < int64(want) {
		return durability(op, fmt.Errorf("aof fsync not acknowledged: got %v, want %d local", acks, want))
	}
	return nil
}

func durability(op string, err error) error {
	return core.NewError(core.KindDurabilityFailure, "redis "+op, err)
}
