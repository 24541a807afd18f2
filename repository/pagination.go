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

	"github.com/uptrace/bun"
)

// Offset is the number of rows before a 1-based page.
func Offset(page, pageSize int) int {
	if page <= 0 || pageSize <= 0 {
		return 0
	}
	return (page - 1) * pageSize
}

// Paginate restricts sq to one page. It is a no-op unless both page and
// pageSize are positive.
func Paginate(sq *bun.SelectQuery, page, pageSize int) *bun.SelectQuery {
	if page <= 0 || pageSize <= 0 {
		return sq
	}
	return sq.Offset(Offset(page, pageSize)).Limit(pageSize)
}

// countMatching counts rows of model matching filter, joining only what the
// filter needs. Ordering, window and inclusion never take part.
func countMatching(ctx context.Context, db bun.IDB, model interface{}, filter fragment) (int64, error) {
	sq := db.NewSelect().Model(model)
	sq = applyFilter(sq, filter)
	n, err := sq.Count(ctx)
	return int64(n), err
}

func applyFilter(sq *bun.SelectQuery, filter fragment) *bun.SelectQuery {
	for _, j := range filter.joins {
		sq = sq.Relation(j)
	}
	if !filter.empty() {
		sq = sq.Where(filter.sql, filter.args...)
	}
	return sq
}
