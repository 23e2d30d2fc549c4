package persistence

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"agentcore/pkg/contextmgr"
	"agentcore/pkg/logx"
	"agentcore/pkg/plan"
	"agentcore/pkg/reasoning"
)

// Key prefixes. Conversation ids are path-escaped so one id is never a
// prefix of another's keys.
const (
	planKeyPrefix    = "plan/"
	outcomeKeyPrefix = "outcome/"
	historyKeyPrefix = "history/"
	outcomeSeqKey    = "seq/outcome"

	maxConflictRetries = 5
)

// BadgerStore is an embedded key-value store for plans, outcomes and history.
// Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *logx.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenBadger opens the store in dir. An empty dir opens an in-memory store.
func OpenBadger(dir string) (*BadgerStore, error) {
	logger := logx.NewLogger("persistence")
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	seq, err := db.GetSequence([]byte(outcomeSeqKey), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open outcome sequence: %w", err)
	}
	if dir != "" {
		logger.Info("📦 Badger store opened: %s", dir)
	}
	return &BadgerStore{db: db, seq: seq, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the sequence and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release outcome sequence: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger store: %w", err)
	}
	return nil
}

func convKey(prefix, conversationID string) []byte {
	return []byte(prefix + url.PathEscape(conversationID))
}

func (s *BadgerStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func readJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Get returns the stored plan for a conversation.
func (s *BadgerStore) Get(_ context.Context, conversationID string) (plan.Plan, bool, error) {
	if conversationID == "" {
		return plan.Plan{}, false, plan.ErrEmptyConversationID
	}
	var p plan.Plan
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = readJSON(txn, convKey(planKeyPrefix, conversationID), &p)
		return err
	})
	if err != nil {
		return plan.Plan{}, false, err
	}
	return p, found, nil
}

// Update applies fn in a read-write transaction. Updates of one id are
// serialized in-process; a conflicting commit is retried with a fresh read.
func (s *BadgerStore) Update(ctx context.Context, conversationID string, fn plan.UpdateFunc) (plan.Plan, error) {
	if conversationID == "" {
		return plan.Plan{}, plan.ErrEmptyConversationID
	}
	l := s.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	key := convKey(planKeyPrefix, conversationID)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return plan.Plan{}, err //nolint:wrapcheck // context errors pass through
		}
		var out plan.Plan
		var fnErr error
		err := s.db.Update(func(txn *badger.Txn) error {
			current := plan.Plan{ConversationID: conversationID}
			if _, err := readJSON(txn, key, &current); err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil {
				out, fnErr = current, err
				return err
			}
			out = plan.Stamp(conversationID, next, time.Now())
			data, err := json.Marshal(out)
			if err != nil {
				return fmt.Errorf("failed to encode plan: %w", err)
			}
			return txn.Set(key, data)
		})
		switch {
		case fnErr != nil:
			return out, fnErr
		case errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries:
			s.logger.Debug("plan %s update conflicted (attempt %d), retrying", conversationID, attempt)
			continue
		case err != nil:
			return plan.Plan{}, fmt.Errorf("failed to update plan %s: %w", conversationID, err)
		}
		return out, nil
	}
}

// Reset deletes a conversation's plan.
func (s *BadgerStore) Reset(_ context.Context, conversationID string) error {
	if conversationID == "" {
		return plan.ErrEmptyConversationID
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(convKey(planKeyPrefix, conversationID))
	})
	if err != nil {
		return fmt.Errorf("failed to reset plan %s: %w", conversationID, err)
	}
	return nil
}

func outcomePrefix(conversationID string) []byte {
	return append(convKey(outcomeKeyPrefix, conversationID), '/')
}

// Save appends an outcome under a monotonically increasing sequence number.
func (s *BadgerStore) Save(_ context.Context, o reasoning.Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate outcome sequence: %w", err)
	}
	key := binary.BigEndian.AppendUint64(outcomePrefix(o.ConversationID), n)
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(key, data) }); err != nil {
		return fmt.Errorf("failed to save reasoning outcome: %w", err)
	}
	return nil
}

// Latest returns the most recently saved outcome of a conversation.
func (s *BadgerStore) Latest(_ context.Context, conversationID string) (reasoning.Outcome, bool, error) {
	prefix := outcomePrefix(conversationID)
	var o reasoning.Outcome
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &o) })
	})
	if err != nil {
		return reasoning.Outcome{}, false, fmt.Errorf("failed to read latest outcome: %w", err)
	}
	return o, found, nil
}

// List returns a conversation's outcomes, oldest first.
func (s *BadgerStore) List(_ context.Context, conversationID string) ([]reasoning.Outcome, error) {
	prefix := outcomePrefix(conversationID)
	var out []reasoning.Outcome
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var o reasoning.Outcome
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &o) }); err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	return out, nil
}

// LoadHistory restores the serialized history of a conversation.
func (s *BadgerStore) LoadHistory(_ context.Context, conversationID string, into *contextmgr.ContextManager) (bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(convKey(historyKeyPrefix, conversationID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read history %s: %w", conversationID, err)
	}
	if err := into.Deserialize(data); err != nil {
		return false, fmt.Errorf("failed to restore history %s: %w", conversationID, err)
	}
	return true, nil
}

// SaveHistory replaces the stored history of a conversation.
func (s *BadgerStore) SaveHistory(_ context.Context, conversationID string, from *contextmgr.ContextManager) error {
	data, err := from.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize history %s: %w", conversationID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(convKey(historyKeyPrefix, conversationID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save history %s: %w", conversationID, err)
	}
	return nil
}

// badgerLogger routes badger's internal logging into logx. Info chatter is
// demoted to debug.
type badgerLogger struct{ l *logx.Logger }

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimRight(format, "\n"), args...)
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimRight(format, "\n"), args...)
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(strings.TrimRight(format, "\n"), args...)
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimRight(format, "\n"), args...)
}
