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
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type nodeKind int

const (
	rawNode nodeKind = iota + 1
	cmpNode
	inNode
	nullNode
	notNullNode
	andNode
	orNode
	notNode
)

type node struct {
	kind     nodeKind
	path     string
	op       string
	value    interface{}
	sql      string
	args     []interface{}
	children []*node
}

// Predicate is an immutable boolean condition over T. The zero value matches
// every row. Predicates compose with And, Or and Not and share no state, so
// one value may be reused across queries and goroutines.
type Predicate[T any] struct {
	n *node
}

// IsZero reports whether p is the match-all predicate.
func (p Predicate[T]) IsZero() bool { return p.n == nil }

// Where wraps a raw SQL condition. Bun placeholders such as ?TableAlias are
// available. An empty condition is the zero predicate.
func Where[T any](sql string, args ...interface{}) Predicate[T] {
	if strings.TrimSpace(sql) == "" {
		return Predicate[T]{}
	}
	return Predicate[T]{n: &node{kind: rawNode, sql: sql, args: args}}
}

// Eq matches rows whose field equals value. A nil value compiles to IS NULL.
func Eq[T any](path string, value interface{}) Predicate[T] {
	if value == nil {
		return IsNull[T](path)
	}
	return cmp[T](path, "=", value)
}

// Ne matches rows whose field differs from value. A nil value compiles to
// IS NOT NULL.
func Ne[T any](path string, value interface{}) Predicate[T] {
	if value == nil {
		return NotNull[T](path)
	}
	return cmp[T](path, "<>", value)
}

func Gt[T any](path string, value interface{}) Predicate[T] { return cmp[T](path, ">", value) }

func Gte[T any](path string, value interface{}) Predicate[T] { return cmp[T](path, ">=", value) }

func Lt[T any](path string, value interface{}) Predicate[T] { return cmp[T](path, "<", value) }

func Lte[T any](path string, value interface{}) Predicate[T] { return cmp[T](path, "<=", value) }

func Like[T any](path string, pattern string) Predicate[T] { return cmp[T](path, "LIKE", pattern) }

// In matches rows whose field is one of values. No values match no rows.
func In[T any, V any](path string, values []V) Predicate[T] {
	if len(values) == 0 {
		return Where[T]("1 = 0")
	}
	return Predicate[T]{n: &node{kind: inNode, path: path, value: bun.In(values)}}
}

func IsNull[T any](path string) Predicate[T] {
	return Predicate[T]{n: &node{kind: nullNode, path: path}}
}

func NotNull[T any](path string) Predicate[T] {
	return Predicate[T]{n: &node{kind: notNullNode, path: path}}
}

func cmp[T any](path, op string, value interface{}) Predicate[T] {
	return Predicate[T]{n: &node{kind: cmpNode, path: path, op: op, value: value}}
}

// And matches rows matching every operand. Zero operands are skipped.
func And[T any](ps ...Predicate[T]) Predicate[T] { return combine(andNode, ps) }

// Or matches rows matching any operand. Zero operands are skipped.
func Or[T any](ps ...Predicate[T]) Predicate[T] { return combine(orNode, ps) }

// Not negates p. The negation of the zero predicate is zero.
func Not[T any](p Predicate[T]) Predicate[T] {
	if p.n == nil {
		return p
	}
	if p.n.kind == notNode {
		return Predicate[T]{n: p.n.children[0]}
	}
	return Predicate[T]{n: &node{kind: notNode, children: []*node{p.n}}}
}

func (p Predicate[T]) And(qs ...Predicate[T]) Predicate[T] {
	return And(append([]Predicate[T]{p}, qs...)...)
}

func (p Predicate[T]) Or(qs ...Predicate[T]) Predicate[T] {
	return Or(append([]Predicate[T]{p}, qs...)...)
}

func (p Predicate[T]) Not() Predicate[T] { return Not(p) }

func combine[T any](kind nodeKind, ps []Predicate[T]) Predicate[T] {
	children := make([]*node, 0, len(ps))
	for _, p := range ps {
		if p.n == nil {
			continue
		}
		if p.n.kind == kind {
			children = append(children, p.n.children...)
			continue
		}
		children = append(children, p.n)
	}
	switch len(children) {
	case 0:
		return Predicate[T]{}
	case 1:
		return Predicate[T]{n: children[0]}
	}
	return Predicate[T]{n: &node{kind: kind, children: children}}
}

// compile renders p against meta. The zero predicate yields an empty
// fragment.
func (p Predicate[T]) compile(meta *Metadata, name dialect.Name, qualify bool) (fragment, error) {
	if p.n == nil {
		return fragment{}, nil
	}
	c := newCompiler(meta, name, qualify)
	if err := c.node(p.n); err != nil {
		return fragment{}, err
	}
	return c.fragment(), nil
}

func (c *compiler) node(n *node) error {
	switch n.kind {
	case rawNode:
		c.write("("+n.sql+")", n.args...)
		return nil
	case andNode, orNode:
		sep := " AND "
		if n.kind == orNode {
			sep = " OR "
		}
		c.write("(")
		for i, child := range n.children {
			if i > 0 {
				c.write(sep)
			}
			if err := c.node(child); err != nil {
				return err
			}
		}
		c.write(")")
		return nil
	case notNode:
		c.write("NOT (")
		if err := c.node(n.children[0]); err != nil {
			return err
		}
		c.write(")")
		return nil
	}

	f, err := c.field(n.path)
	if err != nil {
		return err
	}
	c.writeField(f)
	switch n.kind {
	case nullNode:
		c.write(" IS NULL")
	case notNullNode:
		c.write(" IS NOT NULL")
	case inNode:
		c.write(" IN (?)", n.value)
	case cmpNode:
		c.write(" " + n.op + " ")
		return toExpr(n.value).appendExpr(c)
	}
	return nil
}
