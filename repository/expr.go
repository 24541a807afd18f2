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

	"github.com/uptrace/bun/dialect"
)

// Expr is a value the store computes per row, such as a column, a literal
// or an arithmetic or string expression over them.
type Expr interface {
	appendExpr(c *compiler) error
}

type colExpr struct{ path string }

type valExpr struct{ value interface{} }

type concatExpr struct{ parts []Expr }

type binaryExpr struct {
	op          string
	left, right Expr
}

type rawExpr struct {
	sql  string
	args []interface{}
}

// Col refers to the column behind a field path.
func Col(path string) Expr { return colExpr{path: path} }

// Val is a bound literal.
func Val(v interface{}) Expr { return valExpr{value: v} }

// Concat joins string operands. Operands that are not an Expr are bound as
// literals.
func Concat(parts ...interface{}) Expr {
	exprs := make([]Expr, len(parts))
	for i, p := range parts {
		exprs[i] = toExpr(p)
	}
	return concatExpr{parts: exprs}
}

func Add(left, right interface{}) Expr { return binary("+", left, right) }

func Sub(left, right interface{}) Expr { return binary("-", left, right) }

func Mul(left, right interface{}) Expr { return binary("*", left, right) }

// Raw is an SQL fragment with Bun placeholders.
func Raw(sql string, args ...interface{}) Expr { return rawExpr{sql: sql, args: args} }

func binary(op string, left, right interface{}) Expr {
	return binaryExpr{op: op, left: toExpr(left), right: toExpr(right)}
}

func toExpr(v interface{}) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return valExpr{value: v}
}

func (e colExpr) appendExpr(c *compiler) error {
	f, err := c.field(e.path)
	if err != nil {
		return err
	}
	c.writeField(f)
	return nil
}

func (e valExpr) appendExpr(c *compiler) error {
	c.write("?", e.value)
	return nil
}

func (e concatExpr) appendExpr(c *compiler) error {
	if len(e.parts) == 0 {
		c.write("''")
		return nil
	}
	sep := " || "
	switch c.dialect {
	case dialect.MySQL, dialect.MSSQL:
		c.write("CONCAT(")
		sep = ", "
	default:
		c.write("(")
	}
	for i, part := range e.parts {
		if i > 0 {
			c.write(sep)
		}
		if err := part.appendExpr(c); err != nil {
			return err
		}
	}
	c.write(")")
	return nil
}

func (e binaryExpr) appendExpr(c *compiler) error {
	c.write("(")
	if err := e.left.appendExpr(c); err != nil {
		return err
	}
	c.write(" " + e.op + " ")
	if err := e.right.appendExpr(c); err != nil {
		return err
	}
	c.write(")")
	return nil
}

func (e rawExpr) appendExpr(c *compiler) error {
	if strings.TrimSpace(e.sql) == "" {
		return fmt.Errorf("repository: empty raw expression")
	}
	c.write("("+e.sql+")", e.args...)
	return nil
}

// compiler turns predicates and expressions into a Bun query fragment.
type compiler struct {
	meta    *Metadata
	dialect dialect.Name
	// qualify prefixes own columns with the model alias and allows joined
	// fields. It is set for SELECT and unset for UPDATE and DELETE.
	qualify bool

	b     strings.Builder
	args  []interface{}
	joins []string
}

type fragment struct {
	sql   string
	args  []interface{}
	joins []string
}

func (f fragment) empty() bool { return f.sql == "" }

func newCompiler(meta *Metadata, name dialect.Name, qualify bool) *compiler {
	return &compiler{meta: meta, dialect: name, qualify: qualify}
}

func (c *compiler) write(sql string, args ...interface{}) {
	c.b.WriteString(sql)
	c.args = append(c.args, args...)
}

func (c *compiler) field(path string) (*Field, error) {
	f, err := c.meta.Field(path)
	if err != nil {
		return nil, err
	}
	if f.Nested() {
		if !c.qualify {
			return nil, fmt.Errorf("%w: %s needs a join", ErrUnsupportedPath, f.Path)
		}
		c.addJoin(f.JoinPath)
	}
	return f, nil
}

func (c *compiler) writeField(f *Field) {
	sql, args := f.ref(c.qualify)
	c.write(sql, args...)
}

func (c *compiler) addJoin(path string) {
	for _, j := range c.joins {
		if j == path {
			return
		}
	}
	c.joins = append(c.joins, path)
}

func (c *compiler) fragment() fragment {
	return fragment{sql: c.b.String(), args: c.args, joins: c.joins}
}

// compileExpr compiles a standalone expression, used for SET clauses.
func compileExpr(e Expr, meta *Metadata, name dialect.Name, qualify bool) (fragment, error) {
	c := newCompiler(meta, name, qualify)
	if err := e.appendExpr(c); err != nil {
		return fragment{}, err
	}
	return c.fragment(), nil
}
