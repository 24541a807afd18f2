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

package types

// PageRequest describes a 1-based page and "Field DIR" order strings, e.g.
// "Name DESC" or "Owner.Name". Unset page and size fall back to 1 and 10.
type PageRequest struct {
	page     int
	pageSize int
	orders   []string
}

// NewPageRequest constructs a PageRequest with optional order strings.
func NewPageRequest(page int, pageSize int, orders ...string) *PageRequest {
	return &PageRequest{page: page, pageSize: pageSize, orders: orders}
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		return 10
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		return 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

func (p *PageRequest) GetOrders() []string {
	return p.orders
}

// Page holds one window of results and the total number of rows matching
// the filter, independent of the window.
type Page[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

// NewPage builds a page; a nil items slice becomes an empty one.
func NewPage[T any](items []T, total int64, page int, pageSize int) *Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	return &Page[T]{Items: items, TotalCount: total, Page: page, PageSize: pageSize}
}

// TotalPages is 1 for an unpaged result and 0 for an empty one.
func (p *Page[T]) TotalPages() int {
	if p.TotalCount == 0 {
		return 0
	}
	if p.PageSize <= 0 {
		return 1
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}

func (p *Page[T]) HasNext() bool {
	return p.PageSize > 0 && p.Page < p.TotalPages()
}

// MapPage converts the items of a page, keeping its counters.
func MapPage[T, R any](p *Page[T], fn func(T) R) *Page[R] {
	items := make([]R, len(p.Items))
	for i, it := range p.Items {
		items[i] = fn(it)
	}
	return &Page[R]{Items: items, TotalCount: p.TotalCount, Page: p.Page, PageSize: p.PageSize}
}
