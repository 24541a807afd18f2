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

	"github.com/dimesoftware/dime/database"
	"github.com/dimesoftware/dime/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// QueryRepository reads entities. A nil query reads every row.
type QueryRepository[T any] interface {
	FindOne(ctx context.Context, q *Query[T], opts ...ScopeOption) (*T, error)

	FindByID(ctx context.Context, id any, opts ...ScopeOption) (*T, error)

	FindAll(ctx context.Context, q *Query[T], opts ...ScopeOption) ([]*T, error)

	// FindPage counts the rows matching the filter, then loads the window.
	FindPage(ctx context.Context, q *Query[T], opts ...ScopeOption) (*types.Page[*T], error)

	Count(ctx context.Context, filter Predicate[T], opts ...ScopeOption) (int64, error)

	Exists(ctx context.Context, filter Predicate[T], opts ...ScopeOption) (bool, error)
}

// CrudRepository stages single-entity changes in a session and commits them
// unless WithCommit(false) is given.
type CrudRepository[T any] interface {
	Create(ctx context.Context, entity *T, opts ...ScopeOption) error

	CreateAll(ctx context.Context, entities []*T, opts ...ScopeOption) error

	// Upsert inserts entities, updating fields (all own columns when empty)
	// of rows that collide on conflictKeys (the primary key when empty).
	Upsert(ctx context.Context, entities []*T, fields []string, conflictKeys []string, opts ...ScopeOption) error

	Update(ctx context.Context, entity *T, opts ...ScopeOption) error

	UpdateColumns(ctx context.Context, entity *T, paths []string, opts ...ScopeOption) error

	// Delete removes the row with the given primary key. A missing row is
	// not an error.
	Delete(ctx context.Context, id any, opts ...ScopeOption) error

	DeleteEntity(ctx context.Context, entity *T, opts ...ScopeOption) error
}

// BulkRepository mutates many rows per call. UpdateWhere and DeleteWhere
// run as one statement in the store and return the rows they matched.
type BulkRepository[T any] interface {
	UpdateAll(ctx context.Context, entities []*T, opts ...ScopeOption) error

	UpdateWhere(ctx context.Context, filter Predicate[T], assignments []Assignment, opts ...ScopeOption) (int64, error)

	DeleteByIDs(ctx context.Context, ids []any, opts ...ScopeOption) error

	DeleteEntities(ctx context.Context, entities []*T, opts ...ScopeOption) error

	DeleteWhere(ctx context.Context, filter Predicate[T], opts ...ScopeOption) (int64, error)
}

// Repository combines reads, single and bulk writes and exposes Bun query
// builders for everything else.
type Repository[T any] interface {
	QueryRepository[T]
	CrudRepository[T]
	BulkRepository[T]
	Metadata() *Metadata
	Sessions() database.SessionFactory
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
