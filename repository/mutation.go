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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/dimesoftware/dime/database"
	"github.com/uptrace/bun"
)

// Assignment sets one field in a set-based update.
type Assignment struct {
	Path  string
	Value interface{}
}

// Set assigns a literal. It is checked against the field's type before any
// statement runs.
func Set(path string, value interface{}) Assignment {
	return Assignment{Path: path, Value: value}
}

// SetExpr assigns a value the store computes for each row, for example
// SetExpr("URL", Concat(Col("URL"), "/x")).
func SetExpr(path string, e Expr) Assignment {
	return Assignment{Path: path, Value: e}
}

func (r *baseRepositoryImpl[T]) assignments(assignments []Assignment) ([]fragment, error) {
	if len(assignments) == 0 {
		return nil, ErrNoAssignments
	}
	name := r.db.Dialect().Name()
	sets := make([]fragment, 0, len(assignments))
	for _, a := range assignments {
		f, err := r.meta.Field(a.Path)
		if err != nil {
			return nil, err
		}
		if f.Nested() {
			return nil, fmt.Errorf("%w: cannot assign %s", ErrUnsupportedPath, f.Path)
		}
		if e, ok := a.Value.(Expr); ok {
			frag, err := compileExpr(e, r.meta, name, false)
			if err != nil {
				return nil, err
			}
			sets = append(sets, fragment{
				sql:  "? = " + frag.sql,
				args: append([]interface{}{bun.Ident(f.Column)}, frag.args...),
			})
			continue
		}
		if err := f.Accepts(a.Value); err != nil {
			return nil, err
		}
		sets = append(sets, fragment{sql: "? = ?", args: []interface{}{bun.Ident(f.Column), a.Value}})
	}
	return sets, nil
}

// UpdateWhere applies assignments to every row matching filter in one
// statement and returns how many rows matched. The zero filter matches all
// rows.
func (r *baseRepositoryImpl[T]) UpdateWhere(ctx context.Context, filter Predicate[T], assignments []Assignment, opts ...ScopeOption) (int64, error) {
	sets, err := r.assignments(assignments)
	if err != nil {
		return 0, err
	}
	where, err := filter.compile(r.meta, r.db.Dialect().Name(), false)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = r.write(ctx, opts, func(ctx context.Context, s *database.Session) error {
		n, err := s.Exec(ctx, func(ctx context.Context, tx bun.Tx) (int64, error) {
			uq := tx.NewUpdate().Model((*T)(nil))
			for _, set := range sets {
				uq = uq.Set(set.sql, set.args...)
			}
			if where.empty() {
				// Bun refuses updates without WHERE.
				uq = uq.Where("1 = 1")
			} else {
				uq = uq.Where(where.sql, where.args...)
			}
			return rowsAffected(uq.Exec(ctx))
		})
		affected = n
		return err
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Bulk update applied", "entity", r.meta.Entity, "rows", affected)
	return affected, nil
}

// DeleteWhere deletes every row matching filter in one statement.
func (r *baseRepositoryImpl[T]) DeleteWhere(ctx context.Context, filter Predicate[T], opts ...ScopeOption) (int64, error) {
	where, err := filter.compile(r.meta, r.db.Dialect().Name(), false)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = r.write(ctx, opts, func(ctx context.Context, s *database.Session) error {
		n, err := s.Exec(ctx, func(ctx context.Context, tx bun.Tx) (int64, error) {
			dq := tx.NewDelete().Model((*T)(nil))
			if where.empty() {
				dq = dq.Where("1 = 1")
			} else {
				dq = dq.Where(where.sql, where.args...)
			}
			return rowsAffected(dq.Exec(ctx))
		})
		affected = n
		return err
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("Bulk delete applied", "entity", r.meta.Entity, "rows", affected)
	return affected, nil
}

// Delete deletes the row with the given primary key. The key is read back
// from the store, so any id the store compares equal to the key is accepted.
// A missing row is not an error.
func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any, opts ...ScopeOption) error {
	pk, err := r.meta.PrimaryKey()
	if err != nil {
		return err
	}
	return r.write(ctx, opts, func(ctx context.Context, s *database.Session) error {
		entity := new(T)
		err := s.Read(ctx, func(ctx context.Context, db bun.IDB) error {
			return db.NewSelect().
				Model(entity).
				Column(pk.Column).
				Where("?TableAlias.? = ?", bun.Ident(pk.Column), id).
				Limit(1).
				Scan(ctx)
		})
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug("Delete skipped, no such row", "entity", r.meta.Entity, "id", id)
			return nil
		}
		if err != nil {
			return err
		}
		return s.Attach(entity, database.EntryDeleted)
	})
}

// DeleteByIDs deletes the rows with the given primary keys. Duplicates are
// ignored and missing rows are skipped.
func (r *baseRepositoryImpl[T]) DeleteByIDs(ctx context.Context, ids []any, opts ...ScopeOption) error {
	pk, err := r.meta.PrimaryKey()
	if err != nil {
		return err
	}
	ids = distinct(ids)
	if len(ids) == 0 {
		return nil
	}
	return r.write(ctx, opts, func(ctx context.Context, s *database.Session) error {
		var found []*T
		err := s.Read(ctx, func(ctx context.Context, db bun.IDB) error {
			return db.NewSelect().
				Model(&found).
				Column(pk.Column).
				Where("?TableAlias.? IN (?)", bun.Ident(pk.Column), bun.In(ids)).
				Scan(ctx)
		})
		if err != nil {
			return err
		}
		if skipped := len(ids) - len(found); skipped > 0 {
			r.logger.Debug("Delete skipped missing rows", "entity", r.meta.Entity, "missing", skipped)
		}
		for _, entity := range found {
			if err := s.Attach(entity, database.EntryDeleted); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *baseRepositoryImpl[T]) DeleteEntity(ctx context.Context, entity *T, opts ...ScopeOption) error {
	if entity == nil {
		return fmt.Errorf("repository: nil %s", r.meta.Entity)
	}
	return r.DeleteEntities(ctx, []*T{entity}, opts...)
}

// DeleteEntities re-associates each entity with the session and deletes it
// by primary key. Entities without a primary key value were never stored and
// are skipped.
func (r *baseRepositoryImpl[T]) DeleteEntities(ctx context.Context, entities []*T, opts ...ScopeOption) error {
	var stored []*T
	for _, entity := range entities {
		if entity != nil && r.persisted(entity) {
			stored = append(stored, entity)
		}
	}
	return r.attachAll(ctx, stored, database.EntryDeleted, nil, opts)
}

func (r *baseRepositoryImpl[T]) persisted(entity *T) bool {
	pks := r.meta.PrimaryKeys()
	if len(pks) == 0 {
		return true
	}
	for _, pk := range pks {
		v, ok := pk.Get(entity)
		if !ok || v == nil || reflect.ValueOf(v).IsZero() {
			return false
		}
	}
	return true
}

// distinct drops nil and repeated ids, keeping first occurrences.
func distinct(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == nil {
			continue
		}
		key := fmt.Sprintf("%T:%v", id, id)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}
