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

package dime

import (
	"context"
	"sync"

	"github.com/dimesoftware/dime/database"
	"github.com/dimesoftware/dime/repository"
	"github.com/dimesoftware/dime/types"
	"github.com/uptrace/bun"
)

type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id any) (*T, error)

	// First returns the first entity the query selects.
	First(ctx context.Context, q *repository.Query[T]) (*T, error)

	// List returns entities selected by the query; nil selects all.
	List(ctx context.Context, q *repository.Query[T]) ([]*T, error)

	// Page returns one page of entities plus the filter's total.
	Page(ctx context.Context, q *repository.Query[T]) (*types.Page[*T], error)

	// Count returns how many entities match the filter.
	Count(ctx context.Context, filter repository.Predicate[T]) (int64, error)

	// Save inserts new entities.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities based on fields and conflict keys.
	SaveOrUpdate(ctx context.Context, fields []string, conflictKeys []string, model ...*T) error

	// Update writes every column of existing entities.
	Update(ctx context.Context, model ...*T) error

	// UpdateWhere assigns fields on every matching row and returns the count.
	UpdateWhere(ctx context.Context, filter repository.Predicate[T], assignments ...repository.Assignment) (int64, error)

	// Delete removes entities by identifier; missing ones are ignored.
	Delete(ctx context.Context, id ...any) error

	// DeleteWhere removes every matching row and returns the count.
	DeleteWhere(ctx context.Context, filter repository.Predicate[T]) (int64, error)

	// Repository returns the underlying repository for scoped calls.
	Repository() (repository.Repository[T], error)

	// SelectBuilder returns a Bun select query builder, or nil when no
	// database is configured.
	SelectBuilder() *bun.SelectQuery
}

type baseServiceImpl[T any] struct {
	opts []repository.Option
	mu   sync.Mutex
	repo repository.Repository[T]
}

// NewService returns a default Service implementation using the generic
// repository backed by the global database connection, which is looked up
// on first use.
func NewService[T any](opts ...repository.Option) Service[T] {
	return newBaseServiceImpl[T](opts...)
}

func newBaseServiceImpl[T any](opts ...repository.Option) *baseServiceImpl[T] {
	return &baseServiceImpl[T]{opts: opts}
}

func (s *baseServiceImpl[T]) baseRepo() (repository.Repository[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil {
		return s.repo, nil
	}
	opts := append([]repository.Option{repository.WithQueryConfig(database.GetQueryConfig())}, s.opts...)
	repo, err := repository.NewRepository[T](database.GetDB(), opts...)
	if err != nil {
		return nil, err
	}
	s.repo = repo
	return repo, nil
}

func (s *baseServiceImpl[T]) Repository() (repository.Repository[T], error) {
	return s.baseRepo()
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindByID(ctx, id)
}

func (s *baseServiceImpl[T]) First(ctx context.Context, q *repository.Query[T]) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindOne(ctx, q)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, q *repository.Query[T]) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindAll(ctx, q)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, q *repository.Query[T]) (*types.Page[*T], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindPage(ctx, q)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter repository.Predicate[T]) (int64, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx, filter)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.CreateAll(ctx, model)
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, conflictKeys []string, model ...*T) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Upsert(ctx, model, fields, conflictKeys)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model ...*T) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.UpdateAll(ctx, model)
}

func (s *baseServiceImpl[T]) UpdateWhere(ctx context.Context, filter repository.Predicate[T], assignments ...repository.Assignment) (int64, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.UpdateWhere(ctx, filter, assignments)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id ...any) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	if len(id) == 1 {
		return repo.Delete(ctx, id[0])
	}
	return repo.DeleteByIDs(ctx, id)
}

func (s *baseServiceImpl[T]) DeleteWhere(ctx context.Context, filter repository.Predicate[T]) (int64, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.DeleteWhere(ctx, filter)
}

func (s *baseServiceImpl[T]) SelectBuilder() *bun.SelectQuery {
	repo, err := s.baseRepo()
	if err != nil {
		return nil
	}
	return repo.NewSelect()
}
