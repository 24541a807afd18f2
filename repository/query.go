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
	"fmt"
	"strings"

	"github.com/dimesoftware/dime/types"
)

// Query collects the filter, ordering, window, inclusion and column choice
// of a read. Methods mutate and return the receiver so calls chain; the
// first invalid argument is kept and reported by the read that uses it.
type Query[T any] struct {
	filter     Predicate[T]
	orders     []types.OrderSpec
	page       int
	pageSize   int
	take       int
	includes   []string
	includeAll bool
	columns    []string
	err        error
}

func NewQuery[T any]() *Query[T] { return &Query[T]{} }

// FromPageRequest adapts a PageRequest. Its order strings are parsed and
// later checked against the entity's fields instead of being passed on as
// SQL.
func FromPageRequest[T any](req *types.PageRequest, filter Predicate[T]) *Query[T] {
	q := NewQuery[T]().Filter(filter)
	if req == nil {
		return q
	}
	return q.Page(req.GetPage(), req.GetPageSize()).OrderByString(req.GetOrders()...)
}

// Filter narrows the query. Repeated calls are combined with AND.
func (q *Query[T]) Filter(p Predicate[T]) *Query[T] {
	q.filter = And(q.filter, p)
	return q
}

func (q *Query[T]) OrderBy(path string, dir types.Direction) *Query[T] {
	if !dir.IsValid() {
		q.setErr(fmt.Errorf("repository: invalid direction %d for %s", dir, path))
		return q
	}
	q.orders = append(q.orders, types.OrderSpec{FieldPath: path, Ascending: dir == types.Ascending})
	return q
}

func (q *Query[T]) OrderBySpecs(specs ...types.OrderSpec) *Query[T] {
	q.orders = append(q.orders, specs...)
	return q
}

// OrderByString appends clauses such as "Name DESC, ID".
func (q *Query[T]) OrderByString(clauses ...string) *Query[T] {
	specs, err := types.ParseOrders(clauses...)
	if err != nil {
		q.setErr(err)
		return q
	}
	return q.OrderBySpecs(specs...)
}

// Page selects a 1-based window. A zero page or size leaves the query
// unpaged; negative values are rejected.
func (q *Query[T]) Page(page, pageSize int) *Query[T] {
	if page < 0 || pageSize < 0 {
		q.setErr(fmt.Errorf("%w: page %d, size %d", ErrInvalidPage, page, pageSize))
		return q
	}
	q.page, q.pageSize = page, pageSize
	return q
}

// Take limits an unpaged query to n rows.
func (q *Query[T]) Take(n int) *Query[T] {
	if n < 0 {
		q.setErr(fmt.Errorf("%w: take %d", ErrInvalidPage, n))
		return q
	}
	q.take = n
	return q
}

// Include eager-loads the given relation paths, such as "Owner" or
// "Posts.Comments".
func (q *Query[T]) Include(paths ...string) *Query[T] {
	q.includes = append(q.includes, paths...)
	return q
}

// IncludeAll eager-loads every direct relation when no explicit path is
// given.
func (q *Query[T]) IncludeAll() *Query[T] {
	q.includeAll = true
	return q
}

// Select narrows the loaded columns to the given own fields. Primary keys
// are always loaded.
func (q *Query[T]) Select(paths ...string) *Query[T] {
	q.columns = append(q.columns, paths...)
	return q
}

func (q *Query[T]) Err() error { return q.err }

func (q *Query[T]) Paged() bool { return q.page > 0 && q.pageSize > 0 }

func (q *Query[T]) String() string {
	var parts []string
	if !q.filter.IsZero() {
		parts = append(parts, "filtered")
	}
	for _, o := range q.orders {
		parts = append(parts, "order "+o.String())
	}
	if q.Paged() {
		parts = append(parts, fmt.Sprintf("page %d/%d", q.page, q.pageSize))
	}
	if q.take > 0 {
		parts = append(parts, fmt.Sprintf("take %d", q.take))
	}
	if len(q.includes) > 0 {
		parts = append(parts, "include "+strings.Join(q.includes, ","))
	} else if q.includeAll {
		parts = append(parts, "include all")
	}
	return "Query[" + strings.Join(parts, "; ") + "]"
}

func (q *Query[T]) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// clone returns a shallow copy safe to adjust without touching q.
func (q *Query[T]) clone() *Query[T] {
	if q == nil {
		return NewQuery[T]()
	}
	c := *q
	c.orders = append([]types.OrderSpec(nil), q.orders...)
	c.includes = append([]string(nil), q.includes...)
	c.columns = append([]string(nil), q.columns...)
	return &c
}
