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
	"errors"

	"github.com/dimesoftware/dime/types"
)

// Projection maps loaded entities to another shape. Where, when set, drops
// projected values after mapping.
type Projection[T, R any] struct {
	Map   func(*T) R
	Where func(R) bool
}

func (p Projection[T, R]) apply(entities []*T) ([]R, error) {
	if p.Map == nil {
		return nil, errors.New("repository: projection without Map")
	}
	out := make([]R, 0, len(entities))
	for _, e := range entities {
		v := p.Map(e)
		if p.Where != nil && !p.Where(v) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// FindOneAs projects the first entity q selects. A value rejected by Where
// reads as ErrNotFound.
func FindOneAs[T, R any](ctx context.Context, repo QueryRepository[T], q *Query[T], p Projection[T, R], opts ...ScopeOption) (R, error) {
	var zero R
	entity, err := repo.FindOne(ctx, q, opts...)
	if err != nil {
		return zero, err
	}
	out, err := p.apply([]*T{entity})
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, ErrNotFound
	}
	return out[0], nil
}

func FindAllAs[T, R any](ctx context.Context, repo QueryRepository[T], q *Query[T], p Projection[T, R], opts ...ScopeOption) ([]R, error) {
	entities, err := repo.FindAll(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	return p.apply(entities)
}

// FindPageAs projects one page. The total still counts entities matching
// the query filter, so Where may leave a page shorter than its size.
func FindPageAs[T, R any](ctx context.Context, repo QueryRepository[T], q *Query[T], p Projection[T, R], opts ...ScopeOption) (*types.Page[R], error) {
	page, err := repo.FindPage(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	items, err := p.apply(page.Items)
	if err != nil {
		return nil, err
	}
	return types.NewPage(items, page.TotalCount, page.Page, page.PageSize), nil
}
