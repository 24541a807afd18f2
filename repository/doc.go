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

// Package repository provides a generic, Bun-backed repository: composable
// predicates and per-row expressions, field-path ordering with portable null
// placement, paging with filter-only totals, relation inclusion, projections
// and set-based bulk updates and deletes. Writes go through a
// database.Session and are committed unless the caller asks otherwise.
//
//	repo, err := repository.NewRepository[Blog](db)
//	page, err := repo.FindPage(ctx, repository.NewQuery[Blog]().
//		Filter(repository.Gt[Blog]("Rating", 3)).
//		OrderByString("Owner.Name, ID desc").
//		Page(1, 20).
//		Include("Owner"))
//
//	n, err := repo.UpdateWhere(ctx, repository.Lte[Blog]("ID", 2),
//		[]repository.Assignment{repository.SetExpr("URL", repository.Concat(repository.Col("URL"), "/x"))})
package repository
