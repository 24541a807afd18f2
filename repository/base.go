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
	"strings"

	"github.com/dimesoftware/dime/database"
	"github.com/dimesoftware/dime/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any] struct {
	db             *bun.DB
	meta           *Metadata
	sessions       database.SessionFactory
	logger         database.Logger
	stableOrdering bool
	maxPageSize    int
}

// NewRepository returns a generic repository backed by the provided Bun DB.
// It fails when T is not a struct Bun can map.
func NewRepository[T any](db *bun.DB, opts ...Option) (Repository[T], error) {
	if db == nil {
		return nil, database.ErrNotConnected
	}
	meta, err := MetadataFor[T](db)
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = database.GetLogger()
	}
	if cfg.sessions == nil {
		cfg.sessions = database.NewSessionFactory(db, cfg.logger)
	}
	return &baseRepositoryImpl[T]{
		db:             db,
		meta:           meta,
		sessions:       cfg.sessions,
		logger:         cfg.logger,
		stableOrdering: cfg.stableOrdering,
		maxPageSize:    cfg.maxPageSize,
	}, nil
}

func (r *baseRepositoryImpl[T]) Metadata() *Metadata { return r.meta }

func (r *baseRepositoryImpl[T]) Sessions() database.SessionFactory { return r.sessions }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

// write runs fn in the call's session, then commits or stages the session's
// changes. A session the repository opened is released on every path.
func (r *baseRepositoryImpl[T]) write(ctx context.Context, opts []ScopeOption, fn func(ctx context.Context, s *database.Session) error) error {
	sc := newScope(opts)
	s := sc.session
	if s == nil {
		var err error
		if s, err = r.sessions.Open(ctx); err != nil {
			return err
		}
		defer s.Release()
	}
	if err := fn(ctx, s); err != nil {
		return err
	}
	if !sc.commit {
		s.Stage()
		return nil
	}
	_, err := s.Commit(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) read(ctx context.Context, opts []ScopeOption, fn func(ctx context.Context, db bun.IDB) error) error {
	s := newScope(opts).session
	if s == nil {
		var err error
		if s, err = r.sessions.Open(ctx); err != nil {
			return err
		}
		defer s.Release()
	}
	return s.Read(ctx, fn)
}

type window struct {
	page, size int
	limit      int
}

func (w window) bounded() bool { return (w.page > 0 && w.size > 0) || w.limit > 0 }

func (r *baseRepositoryImpl[T]) windowOf(q *Query[T]) window {
	if !q.Paged() {
		return window{limit: q.take}
	}
	size := q.pageSize
	if r.maxPageSize > 0 && size > r.maxPageSize {
		r.logger.Warn("Page size clamped", "entity", r.meta.Entity, "requested", size, "max", r.maxPageSize)
		size = r.maxPageSize
	}
	return window{page: q.page, size: size}
}

func (r *baseRepositoryImpl[T]) filter(p Predicate[T]) (fragment, error) {
	return p.compile(r.meta, r.db.Dialect().Name(), true)
}

// selectQuery builds the read for q: inclusion, filter, ordering, then the
// window.
func (r *baseRepositoryImpl[T]) selectQuery(db bun.IDB, dest interface{}, q *Query[T], w window) (*bun.SelectQuery, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	filter, err := r.filter(q.filter)
	if err != nil {
		return nil, err
	}
	sq := db.NewSelect().Model(dest)
	if len(q.columns) > 0 {
		cols, err := r.columns(q.columns, true)
		if err != nil {
			return nil, err
		}
		sq = sq.Column(cols...)
	}
	if sq, err = ApplyIncludes(sq, r.meta, q.includeAll, q.includes...); err != nil {
		return nil, err
	}
	sq = applyFilter(sq, filter)
	if sq, err = ApplyOrder(sq, r.meta, q.orders...); err != nil {
		return nil, err
	}
	if w.bounded() && len(q.orders) == 0 && r.stableOrdering {
		sq = orderByPrimaryKey(sq, r.meta)
	}
	sq = Paginate(sq, w.page, w.size)
	if w.limit > 0 {
		sq = sq.Limit(w.limit)
	}
	return sq, nil
}

// columns maps own field paths to column names, optionally adding the
// primary key columns.
func (r *baseRepositoryImpl[T]) columns(paths []string, withPKs bool) ([]string, error) {
	seen := make(map[string]bool)
	var cols []string
	add := func(col string) {
		if !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}
	if withPKs {
		for _, pk := range r.meta.PrimaryKeys() {
			add(pk.Column)
		}
	}
	for _, p := range paths {
		f, err := r.meta.Field(p)
		if err != nil {
			return nil, err
		}
		if f.Nested() {
			return nil, fmt.Errorf("%w: %s is not an own column", ErrUnsupportedPath, f.Path)
		}
		add(f.Column)
	}
	return cols, nil
}

func (r *baseRepositoryImpl[T]) FindOne(ctx context.Context, q *Query[T], opts ...ScopeOption) (*T, error) {
	q = q.clone()
	entity := new(T)
	err := r.read(ctx, opts, func(ctx context.Context, db bun.IDB) error {
		sq, err := r.selectQuery(db, entity, q, window{limit: 1})
		if err != nil {
			return err
		}
		return sq.Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) FindByID(ctx context.Context, id any, opts ...ScopeOption) (*T, error) {
	pk, err := r.meta.PrimaryKey()
	if err != nil {
		return nil, err
	}
	return r.FindOne(ctx, NewQuery[T]().Filter(Eq[T](pk.Path, id)), opts...)
}

func (r *baseRepositoryImpl[T]) FindAll(ctx context.Context, q *Query[T], opts ...ScopeOption) ([]*T, error) {
	q = q.clone()
	var entities []*T
	err := r.read(ctx, opts, func(ctx context.Context, db bun.IDB) error {
		sq, err := r.selectQuery(db, &entities, q, r.windowOf(q))
		if err != nil {
			return err
		}
		return sq.Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = make([]*T, 0)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) FindPage(ctx context.Context, q *Query[T], opts ...ScopeOption) (*types.Page[*T], error) {
	q = q.clone()
	if err := q.Err(); err != nil {
		return nil, err
	}
	filter, err := r.filter(q.filter)
	if err != nil {
		return nil, err
	}
	w := r.windowOf(q)

	var page *types.Page[*T]
	err = r.read(ctx, opts, func(ctx context.Context, db bun.IDB) error {
		total, err := countMatching(ctx, db, new(T), filter)
		if err != nil {
			return err
		}
		if total == 0 {
			page = types.NewPage[*T](nil, 0, w.page, w.size)
			return nil
		}
		var entities []*T
		sq, err := r.selectQuery(db, &entities, q, w)
		if err != nil {
			return err
		}
		if err := sq.Scan(ctx); err != nil {
			return err
		}
		page = types.NewPage(entities, total, w.page, w.size)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, filter Predicate[T], opts ...ScopeOption) (int64, error) {
	frag, err := r.filter(filter)
	if err != nil {
		return 0, err
	}
	var total int64
	err = r.read(ctx, opts, func(ctx context.Context, db bun.IDB) error {
		total, err = countMatching(ctx, db, new(T), frag)
		return err
	})
	return total, err
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, filter Predicate[T], opts ...ScopeOption) (bool, error) {
	frag, err := r.filter(filter)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.read(ctx, opts, func(ctx context.Context, db bun.IDB) error {
		exists, err = applyFilter(db.NewSelect().Model(new(T)), frag).Exists(ctx)
		return err
	})
	return exists, err
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity *T, opts ...ScopeOption) error {
	if entity == nil {
		return fmt.Errorf("repository: nil %s", r.meta.Entity)
	}
	return r.CreateAll(ctx, []*T{entity}, opts...)
}

func (r *baseRepositoryImpl[T]) CreateAll(ctx context.Context, entities []*T, opts ...ScopeOption) error {
	return r.attachAll(ctx, entities, database.EntryAdded, nil, opts)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T, opts ...ScopeOption) error {
	if entity == nil {
		return fmt.Errorf("repository: nil %s", r.meta.Entity)
	}
	return r.UpdateAll(ctx, []*T{entity}, opts...)
}

func (r *baseRepositoryImpl[T]) UpdateColumns(ctx context.Context, entity *T, paths []string, opts ...ScopeOption) error {
	if entity == nil {
		return fmt.Errorf("repository: nil %s", r.meta.Entity)
	}
	if len(paths) == 0 {
		return ErrNoAssignments
	}
	cols, err := r.columns(paths, false)
	if err != nil {
		return err
	}
	return r.attachAll(ctx, []*T{entity}, database.EntryModified, cols, opts)
}

func (r *baseRepositoryImpl[T]) UpdateAll(ctx context.Context, entities []*T, opts ...ScopeOption) error {
	return r.attachAll(ctx, entities, database.EntryModified, nil, opts)
}

// attachAll associates every entity with the session through Attach, which
// replaces an instance already tracked for the same row.
func (r *baseRepositoryImpl[T]) attachAll(ctx context.Context, entities []*T, state database.EntryState, cols []string, opts []ScopeOption) error {
	if len(entities) == 0 {
		return nil
	}
	return r.write(ctx, opts, func(ctx context.Context, s *database.Session) error {
		for _, entity := range entities {
			if entity == nil {
				continue
			}
			if err := s.Attach(entity, state, cols...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, entities []*T, fields []string, conflictKeys []string, opts ...ScopeOption) error {
	if len(entities) == 0 {
		return nil
	}
	cols, err := r.upsertColumns(fields)
	if err != nil {
		return err
	}
	keys, err := r.conflictColumns(conflictKeys)
	if err != nil {
		return err
	}
	return r.write(ctx, opts, func(ctx context.Context, s *database.Session) error {
		_, err := s.Exec(ctx, func(ctx context.Context, tx bun.Tx) (int64, error) {
			return r.multipleUpsert(ctx, tx, cols, keys, entities)
		})
		return err
	})
}

func (r *baseRepositoryImpl[T]) upsertColumns(fields []string) ([]string, error) {
	if len(fields) > 0 {
		return r.columns(fields, false)
	}
	var cols []string
	for _, f := range r.meta.Fields() {
		if !f.Nested() && !f.PK {
			cols = append(cols, f.Column)
		}
	}
	return cols, nil
}

func (r *baseRepositoryImpl[T]) conflictColumns(keys []string) ([]string, error) {
	if len(keys) > 0 {
		return r.columns(keys, false)
	}
	var cols []string
	for _, pk := range r.meta.PrimaryKeys() {
		cols = append(cols, pk.Column)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("repository: %s has no primary key to detect conflicts on", r.meta.Entity)
	}
	return cols, nil
}

func (r *baseRepositoryImpl[T]) multipleUpsert(ctx context.Context, tx bun.Tx, cols []string, keys []string, entities []*T) (int64, error) {
	switch {
	case r.db.HasFeature(feature.InsertOnConflict):
		return r.upsertWithPostgresqlOrSQLite(ctx, tx, cols, keys, entities)
	case r.db.HasFeature(feature.InsertOnDuplicateKey):
		return r.upsertWithMySQL(ctx, tx, cols, entities)
	default:
		// Separate insert/update logic
		return r.upsertFallback(ctx, tx, entities)
	}
}

func (r *baseRepositoryImpl[T]) upsertWithPostgresqlOrSQLite(ctx context.Context, tx bun.Tx, cols []string, keys []string, entities []*T) (int64, error) {
	idents := make([]schema.Ident, len(keys))
	for i, k := range keys {
		idents[i] = bun.Ident(k)
	}
	iq := tx.NewInsert().Model(&entities)
	if len(cols) == 0 {
		iq = iq.On("CONFLICT (?) DO NOTHING", bun.In(idents))
	} else {
		iq = iq.On("CONFLICT (?) DO UPDATE", bun.In(idents))
		for _, c := range cols {
			iq = iq.Set("? = EXCLUDED.?", bun.Ident(c), bun.Ident(c))
		}
	}
	res, err := iq.Exec(ctx)
	return rowsAffected(res, err)
}

func (r *baseRepositoryImpl[T]) upsertWithMySQL(ctx context.Context, tx bun.Tx, cols []string, entities []*T) (int64, error) {
	if len(cols) == 0 {
		res, err := tx.NewInsert().Model(&entities).Ignore().Exec(ctx)
		return rowsAffected(res, err)
	}
	parts := make([]string, len(cols))
	args := make([]interface{}, 0, 2*len(cols))
	for i, c := range cols {
		parts[i] = "? = VALUES(?)"
		args = append(args, bun.Ident(c), bun.Ident(c))
	}
	res, err := tx.NewInsert().
		Model(&entities).
		On("DUPLICATE KEY UPDATE "+strings.Join(parts, ", "), args...).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, tx bun.Tx, entities []*T) (int64, error) {
	var affected int64
	for _, entity := range entities {
		exists, err := tx.NewSelect().Model(entity).WherePK().Exists(ctx)
		if err != nil {
			return 0, err
		}
		var n int64
		if exists {
			n, err = rowsAffected(tx.NewUpdate().Model(entity).WherePK().Exec(ctx))
		} else {
			n, err = rowsAffected(tx.NewInsert().Model(entity).Exec(ctx))
		}
		if err != nil {
			return 0, fmt.Errorf("upsert failed for %s: %w", r.meta.Entity, err)
		}
		affected += n
	}
	return affected, nil
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
