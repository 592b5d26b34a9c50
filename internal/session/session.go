// Package session persists per-session plan-run snapshots and chat history
// in BadgerDB with a rolling time-to-live.
//
// Keys follow the layout plan_run:<session_id> and chat_history:<session_id>.
// Expiration is enforced by Badger entry TTLs, not by cleanup logic here.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// ErrNoPlanRun is returned by GetPlanRun when the session has no stored plan
// run, or the stored one has expired.
var ErrNoPlanRun = errors.New("no active plan run for session")

const (
	planRunPrefix = "plan_run:"
	historyPrefix = "chat_history:"
)

// Store is a keyed, time-expiring session state store.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Options configures a Store.
type Options struct {
	// Path is the directory for the Badger files. Ignored when InMemory is set.
	Path string
	// InMemory keeps all state in RAM. Used by tests.
	InMemory bool
	// TTL is the session expiration, reset on every write. Defaults to one hour.
	TTL time.Duration
	// Logger receives Badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates a session store backed by BadgerDB.
func Open(opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("path is required for persistent session store")
		}
		if err := os.MkdirAll(opts.Path, 0755); err != nil {
			return nil, fmt.Errorf("create session store directory: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}

	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return &Store{db: db, ttl: opts.TTL}, nil
}

// PutPlanRun stores the plan run snapshot for a session, replacing any prior
// snapshot. The entry expires after the configured TTL. Two concurrent turns
// for the same session race here; the last write wins.
func (s *Store) PutPlanRun(ctx context.Context, sessionID string, run *domain.PlanRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("serialize plan run: %w", err)
	}

	key := []byte(planRunPrefix + sessionID)
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("store plan run: %w", err)
	}
	return nil
}

// GetPlanRun returns the stored plan run for a session, or ErrNoPlanRun if
// the key is missing or expired.
func (s *Store) GetPlanRun(ctx context.Context, sessionID string) (*domain.PlanRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	key := []byte(planRunPrefix + sessionID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoPlanRun
	}
	if err != nil {
		return nil, fmt.Errorf("read plan run: %w", err)
	}

	var run domain.PlanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("deserialize plan run: %w", err)
	}
	return &run, nil
}

// AppendHistory appends one entry to the session's chat log and resets the
// log's expiration.
func (s *Store) AppendHistory(ctx context.Context, sessionID, role, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := []byte(historyPrefix + sessionID)
	err := s.db.Update(func(txn *badger.Txn) error {
		var messages []domain.ChatMessage

		item, err := txn.Get(key)
		switch {
		case err == nil:
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &messages); err != nil {
				return fmt.Errorf("deserialize chat history: %w", err)
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			// First entry for this session.
		default:
			return err
		}

		messages = append(messages, domain.ChatMessage{Role: role, Content: content})
		data, err := json.Marshal(messages)
		if err != nil {
			return fmt.Errorf("serialize chat history: %w", err)
		}

		entry := badger.NewEntry(key, data).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("append chat history: %w", err)
	}
	return nil
}

// ReadHistory returns the most recent limit entries of the session's chat
// log, oldest first. A session with no history yields an empty slice.
func (s *Store) ReadHistory(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var messages []domain.ChatMessage
	key := []byte(historyPrefix + sessionID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &messages)
	})
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return messages, nil
}

// RunGC runs Badger value-log garbage collection on a fixed interval until
// the context is cancelled. Call from a dedicated goroutine.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Rerun until GC finds nothing more to collect.
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						slog.Warn("session store GC failed", "error", err)
					}
					break
				}
			}
		}
	}
}

// Ping verifies the underlying store is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("session store is closed")
	}
	return nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close session store: %w", err)
	}
	return nil
}
