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
	"github.com/dimesoftware/dime/types"
	"github.com/uptrace/bun"
)

// ApplyOrder adds one ORDER BY term per spec, in order, so later specs only
// break ties of earlier ones. Nulls sort first ascending and last descending
// on every dialect. Relations needed by nested paths are joined. No specs
// leave sq unordered. Every path is resolved before sq is touched.
func ApplyOrder(sq *bun.SelectQuery, meta *Metadata, specs ...types.OrderSpec) (*bun.SelectQuery, error) {
	fields := make([]*Field, len(specs))
	for i, spec := range specs {
		f, err := meta.Field(spec.FieldPath)
		if err != nil {
			return sq, err
		}
		fields[i] = f
	}
	for i, f := range fields {
		if f.Nested() {
			sq = sq.Relation(f.JoinPath)
		}
		sq = appendOrder(sq, f, specs[i].Ascending)
	}
	return sq, nil
}

func appendOrder(sq *bun.SelectQuery, f *Field, ascending bool) *bun.SelectQuery {
	ref, args := f.ref(true)
	if f.Nullable {
		// IS NULL is 1 for nulls.
		if ascending {
			sq = sq.OrderExpr(ref+" IS NULL DESC", args...)
		} else {
			sq = sq.OrderExpr(ref+" IS NULL ASC", args...)
		}
	}
	if ascending {
		return sq.OrderExpr(ref+" ASC", args...)
	}
	return sq.OrderExpr(ref+" DESC", args...)
}

// orderByPrimaryKey gives paged reads without an explicit order a
// deterministic one.
func orderByPrimaryKey(sq *bun.SelectQuery, meta *Metadata) *bun.SelectQuery {
	for _, pk := range meta.PrimaryKeys() {
		sq = appendOrder(sq, pk, true)
	}
	return sq
}
