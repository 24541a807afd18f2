/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SessionState int

const (
	SessionPending SessionState = iota
	SessionModified
	SessionCommitted
	SessionStagedUncommitted
	SessionReleased
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionModified:
		return "modified"
	case SessionCommitted:
		return "committed"
	case SessionStagedUncommitted:
		return "staged-uncommitted"
	case SessionReleased:
		return "released"
	default:
		return "unknown"
	}
}

// EntryState is the pending change recorded for a tracked model.
type EntryState int

const (
	EntryAdded EntryState = iota + 1
	EntryModified
	EntryDeleted
)

func (s EntryState) String() string {
	switch s {
	case EntryAdded:
		return "added"
	case EntryModified:
		return "modified"
	case EntryDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type trackedEntry struct {
	key     string
	model   interface{}
	state   EntryState
	columns []string
}

// SessionFactory opens unit-of-work sessions against one store.
type SessionFactory interface {
	Open(ctx context.Context) (*Session, error)
}

type bunSessionFactory struct {
	db     *bun.DB
	logger Logger
}

// NewSessionFactory returns a factory producing sessions bound to db. A nil
// logger falls back to the global one.
func NewSessionFactory(db *bun.DB, logger Logger) SessionFactory {
	if logger == nil {
		logger = GetLogger()
	}
	return &bunSessionFactory{db: db, logger: logger}
}

func (f *bunSessionFactory) Open(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.db == nil {
		return nil, ErrNotConnected
	}
	s := &Session{
		id:     uuid.NewString(),
		db:     f.db,
		logger: f.logger,
		index:  make(map[string]int),
	}
	s.logger.Debug("Session opened", "session", s.id)
	return s, nil
}

// Session is a single-use unit of work. Changes recorded with Attach are
// staged in memory; set-based statements run through Exec execute at once
// inside the session's transaction, which stays open until Commit. Commit
// flushes the tracked changes into that transaction and commits it; Release
// ends the session and rolls back anything not committed.
//
// While set-based work is staged the session holds one connection, and reads
// through the session see its uncommitted writes.
type Session struct {
	id      string
	db      *bun.DB
	logger  Logger
	mu      sync.Mutex
	state   SessionState
	entries []*trackedEntry
	index   map[string]int

	tx       *bun.Tx
	execs    int
	execRows int64
}

func (s *Session) ID() string { return s.id }

func (s *Session) DB() *bun.DB { return s.db }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of staged changes: tracked entries plus
// set-based statements awaiting Commit.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index) + s.execs
}

// Tracked reports whether a model with the same identity as model is staged,
// and with which state.
func (s *Session) Tracked(model interface{}) (EntryState, bool) {
	key, err := s.identity(model)
	if err != nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[key]; ok {
		return s.entries[i].state, true
	}
	return 0, false
}

// Read runs fn against the store, inside the session's transaction when
// set-based work is staged and outside any transaction otherwise.
func (s *Session) Read(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx != nil {
		return fn(ctx, *tx)
	}
	return fn(ctx, s.db)
}

// Attach makes model the tracked instance for its identity, replacing any
// instance already tracked for the same table and primary key. Attaching for
// EntryModified also untracks the model's loaded relations so that only the
// model's own columns are written. columns narrows an update; it is ignored
// for other states.
func (s *Session) Attach(model interface{}, state EntryState, columns ...string) error {
	if err := s.checkOpen(context.Background()); err != nil {
		return err
	}
	key, err := s.identity(model)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &trackedEntry{key: key, model: model, state: state}
	if state == EntryModified {
		e.columns = columns
	}
	if i, ok := s.index[key]; ok {
		prev := s.entries[i]
		if prev.state == EntryAdded && state == EntryModified {
			e.state = EntryAdded
			e.columns = nil
		}
		s.entries[i] = e
	} else {
		s.index[key] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	if state == EntryModified {
		s.detachRelated(model, key)
	}
	s.state = SessionModified
	return nil
}

// Detach stops tracking model. It reports whether it was tracked.
func (s *Session) Detach(model interface{}) bool {
	key, err := s.identity(model)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.untrack(key)
}

func (s *Session) untrack(key string) bool {
	i, ok := s.index[key]
	if !ok {
		return false
	}
	s.entries[i] = nil
	delete(s.index, key)
	return true
}

// detachRelated untracks values reachable through the model's relations.
// A relation that cannot be inspected is skipped.
func (s *Session) detachRelated(model interface{}, ownKey string) {
	v := reflect.ValueOf(model).Elem()
	table := s.db.Table(v.Type())
	for name, rel := range table.Relations {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("Skipped relation detach", "session", s.id, "relation", name, "error", r)
				}
			}()
			fv := v.FieldByIndex(rel.Field.Index)
			for _, related := range relatedModels(fv) {
				key, err := s.identity(related)
				if err != nil {
					s.logger.Warn("Skipped relation detach", "session", s.id, "relation", name, "error", err)
					continue
				}
				if key != ownKey {
					s.untrack(key)
				}
			}
		}()
	}
}

func relatedModels(fv reflect.Value) []interface{} {
	switch fv.Kind() {
	case reflect.Ptr:
		if fv.IsNil() || fv.Elem().Kind() != reflect.Struct {
			return nil
		}
		return []interface{}{fv.Interface()}
	case reflect.Slice:
		out := make([]interface{}, 0, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			el := fv.Index(i)
			switch {
			case el.Kind() == reflect.Ptr && !el.IsNil():
				out = append(out, el.Interface())
			case el.Kind() == reflect.Struct && el.CanAddr():
				out = append(out, el.Addr().Interface())
			}
		}
		return out
	case reflect.Struct:
		if fv.CanAddr() {
			return []interface{}{fv.Addr().Interface()}
		}
	}
	return nil
}

// identity is the table name plus primary key values. Models without a
// primary key, or with a zero one, are identified by pointer.
func (s *Session) identity(model interface{}) (string, error) {
	v := reflect.ValueOf(model)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return "", fmt.Errorf("database: model must be a non-nil struct pointer, got %T", model)
	}
	elem := v.Elem()
	table := s.db.Table(elem.Type())
	if len(table.PKs) == 0 {
		return fmt.Sprintf("%s@%p", table.Name, model), nil
	}
	var b strings.Builder
	b.WriteString(table.Name)
	for _, pk := range table.PKs {
		fv := elem.FieldByIndex(pk.Index)
		if fv.IsZero() {
			// not persisted yet
			return fmt.Sprintf("%s@%p", table.Name, model), nil
		}
		b.WriteByte(':')
		fmt.Fprint(&b, fv.Interface())
	}
	return b.String(), nil
}

// Stage marks staged changes as deliberately left uncommitted.
func (s *Session) Stage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionModified && (len(s.index) > 0 || s.execs > 0) {
		s.state = SessionStagedUncommitted
	}
}

// Commit writes every staged change in attach order into the session's
// transaction, commits it, and returns the rows affected by the flushed
// entries and by the set-based statements run since the last commit. On
// failure the transaction is rolled back: set-based statements are lost, and
// tracked entries stay staged.
func (s *Session) Commit(ctx context.Context) (int64, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.index) == 0 && s.tx == nil {
		s.state = SessionCommitted
		return 0, nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	var committed bool
	defer func() {
		if !committed {
			s.rollback("commit")
		}
	}()

	affected := s.execRows
	for _, e := range s.entries {
		if e == nil {
			continue
		}
		n, err := flushEntry(ctx, tx, e)
		if err != nil {
			return 0, WrapConflict("commit", fmt.Errorf("failed to flush %s %T: %w", e.state, e.model, err))
		}
		affected += n
	}
	if err := tx.Commit(); err != nil {
		return 0, WrapConflict("commit", err)
	}
	committed = true

	s.logger.Debug("Session committed", "session", s.id, "entries", len(s.index), "statements", s.execs, "rows", affected)
	s.tx = nil
	s.execs, s.execRows = 0, 0
	s.entries = nil
	s.index = make(map[string]int)
	s.state = SessionCommitted
	return affected, nil
}

// begin returns the session's transaction, opening it on first use. The
// caller holds s.mu.
func (s *Session) begin(ctx context.Context) (bun.Tx, error) {
	if s.tx != nil {
		return *s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bun.Tx{}, err
	}
	s.tx = &tx
	return tx, nil
}

// rollback drops the session's transaction and the set-based work staged in
// it. The caller holds s.mu.
func (s *Session) rollback(op string) {
	if s.tx == nil {
		return
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Error("Failed to rollback transaction", "session", s.id, "op", op, "error", err)
	}
	if s.execs > 0 {
		s.logger.Debug("Staged statements rolled back", "session", s.id, "op", op, "statements", s.execs)
	}
	s.tx = nil
	s.execs, s.execRows = 0, 0
}

func flushEntry(ctx context.Context, tx bun.Tx, e *trackedEntry) (int64, error) {
	switch e.state {
	case EntryAdded:
		res, err := tx.NewInsert().Model(e.model).Exec(ctx)
		return rowsAffected(res, err)
	case EntryModified:
		uq := tx.NewUpdate().Model(e.model).WherePK()
		if len(e.columns) > 0 {
			uq = uq.Column(e.columns...)
		}
		res, err := uq.Exec(ctx)
		return rowsAffected(res, err)
	case EntryDeleted:
		res, err := tx.NewDelete().Model(e.model).WherePK().Exec(ctx)
		return rowsAffected(res, err)
	default:
		return 0, fmt.Errorf("unknown entry state %d", e.state)
	}
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Exec runs one set-based statement inside the session's transaction and
// returns the rows it affected. The statement becomes durable only with
// Commit. A failing statement rolls back the transaction together with the
// set-based work staged before it; tracked entries are not touched.
func (s *Session) Exec(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) (int64, error)) (int64, error) {
	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	n, err := fn(ctx, tx)
	if err != nil {
		s.rollback("exec")
		return 0, WrapConflict("exec", err)
	}
	s.execs++
	s.execRows += n
	s.state = SessionModified
	return n, nil
}

// Release ends the session. Staged changes that were never committed are
// discarded and the session's transaction is rolled back. Calling Release
// more than once is a no-op.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionReleased {
		return
	}
	if n := len(s.index) + s.execs; n > 0 {
		s.logger.Debug("Session released with uncommitted changes", "session", s.id, "entries", len(s.index), "statements", s.execs)
	}
	s.rollback("release")
	s.entries = nil
	s.index = nil
	s.state = SessionReleased
	s.logger.Debug("Session released", "session", s.id)
}

func (s *Session) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionReleased {
		return ErrSessionReleased
	}
	return nil
}
