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
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// maxJoinDepth bounds how many to-one relations a field path may cross.
const maxJoinDepth = 3

type RelationKind int

const (
	HasOne RelationKind = iota + 1
	BelongsTo
	HasMany
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case HasOne:
		return "has-one"
	case BelongsTo:
		return "belongs-to"
	case HasMany:
		return "has-many"
	case ManyToMany:
		return "many-to-many"
	default:
		return "unknown"
	}
}

// Joined reports whether the relation is loaded with a join in the main
// query, which makes its fields usable in filters and orderings.
func (k RelationKind) Joined() bool { return k == HasOne || k == BelongsTo }

// Relation is a direct relation of an entity.
type Relation struct {
	Name string
	Kind RelationKind
	rel  *schema.Relation
}

// Field resolves one field path. Nested fields belong to a to-one relation
// and are read through its join alias.
type Field struct {
	Path     string
	SQLPath  string
	Column   string
	JoinPath string
	Type     reflect.Type
	Nullable bool
	PK       bool

	alias string
	ptr   bool
	chain [][]int
}

// Nested reports whether the field lives on a joined relation.
func (f *Field) Nested() bool { return f.JoinPath != "" }

// ref returns the column reference with its placeholder arguments. Own
// columns are qualified with the model alias only when qualify is set, so the
// same field compiles for UPDATE and DELETE statements that carry no alias.
func (f *Field) ref(qualify bool) (string, []interface{}) {
	switch {
	case f.Nested():
		return "?.?", []interface{}{bun.Ident(f.alias), bun.Ident(f.Column)}
	case qualify:
		return "?TableAlias.?", []interface{}{bun.Ident(f.Column)}
	default:
		return "?", []interface{}{bun.Ident(f.Column)}
	}
}

// Get reads the field from entity. A nil pointer value yields nil; ok is
// false when a relation on the way is not loaded.
func (f *Field) Get(entity interface{}) (value interface{}, ok bool) {
	v := reflect.ValueOf(entity)
	for _, index := range f.chain {
		v, ok = walk(v, index, false)
		if !ok {
			return nil, false
		}
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, true
		}
		v = v.Elem()
	}
	return v.Interface(), true
}

// Set stores value into entity, which must be a struct pointer. Values are
// converted between numeric kinds and between string kinds; pointer fields
// accept their element type. Nested fields are read-only.
func (f *Field) Set(entity interface{}, value interface{}) error {
	if f.Nested() {
		return fmt.Errorf("%w: %s is read through a join", ErrUnsupportedPath, f.Path)
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("repository: cannot set %s on %T", f.Path, entity)
	}
	fv, ok := walk(v, f.chain[0], true)
	if !ok || !fv.CanSet() {
		return fmt.Errorf("repository: cannot set %s on %T", f.Path, entity)
	}
	rv, err := f.coerce(value, fv.Type())
	if err != nil {
		return err
	}
	fv.Set(rv)
	return nil
}

// Accepts reports whether value can be assigned to the field.
func (f *Field) Accepts(value interface{}) error {
	_, err := f.coerce(value, f.goType())
	return err
}

func (f *Field) goType() reflect.Type {
	if f.ptr {
		return reflect.PtrTo(f.Type)
	}
	return f.Type
}

func (f *Field) coerce(value interface{}, typ reflect.Type) (reflect.Value, error) {
	if value == nil {
		switch typ.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
			return reflect.Zero(typ), nil
		}
		if f.Nullable {
			return reflect.Zero(typ), nil
		}
		return reflect.Value{}, &FieldTypeError{Path: f.Path, Want: typ}
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(typ) {
		return rv, nil
	}
	if typ.Kind() == reflect.Ptr {
		if ev, ok := convert(rv, typ.Elem()); ok {
			p := reflect.New(typ.Elem())
			p.Elem().Set(ev)
			return p, nil
		}
	}
	if cv, ok := convert(rv, typ); ok {
		return cv, nil
	}
	return reflect.Value{}, &FieldTypeError{Path: f.Path, Want: typ, Value: value}
}

func convert(rv reflect.Value, typ reflect.Type) (reflect.Value, bool) {
	if rv.Type().AssignableTo(typ) {
		return rv, true
	}
	if kindClass(rv.Kind()) == 0 || kindClass(rv.Kind()) != kindClass(typ.Kind()) {
		return reflect.Value{}, false
	}
	if !rv.Type().ConvertibleTo(typ) {
		return reflect.Value{}, false
	}
	return rv.Convert(typ), true
}

func kindClass(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	case reflect.Bool:
		return 3
	}
	return 0
}

// walk follows a struct index from v. Nil pointers on the way are allocated
// when alloc is set, otherwise the walk stops.
func walk(v reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	for _, i := range index {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				if !alloc || !v.CanSet() {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, false
		}
		v = v.Field(i)
	}
	return v, true
}

// Metadata describes how field paths and relation names of one entity map to
// columns, joins and accessors. It is built once per type and is read-only.
type Metadata struct {
	Entity string

	table     *schema.Table
	fields    []*Field
	byPath    map[string]*Field
	byFold    map[string]*Field
	relations []*Relation
	pks       []*Field
}

func (m *Metadata) Table() *schema.Table { return m.table }

func (m *Metadata) Fields() []*Field { return m.fields }

func (m *Metadata) Relations() []*Relation { return m.relations }

func (m *Metadata) PrimaryKeys() []*Field { return m.pks }

// Field resolves a Go path ("Owner.Name") or SQL path ("owner.name"), falling
// back to a case-insensitive match.
func (m *Metadata) Field(path string) (*Field, error) {
	p := strings.TrimSpace(path)
	if f, ok := m.byPath[p]; ok {
		return f, nil
	}
	if f, ok := m.byFold[strings.ToLower(p)]; ok {
		return f, nil
	}
	return nil, &UnknownFieldError{Entity: m.Entity, Path: path}
}

// PrimaryKey returns the single primary key field.
func (m *Metadata) PrimaryKey() (*Field, error) {
	if len(m.pks) != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrCompositeKey, m.Entity, len(m.pks))
	}
	return m.pks[0], nil
}

// RelationPath resolves a dotted relation path to the Go names Bun expects.
// Every hop may be given by Go name or SQL name, in any case.
func (m *Metadata) RelationPath(path string) (string, error) {
	table := m.table
	parts := strings.Split(strings.TrimSpace(path), ".")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		rel := findRelation(table, part)
		if rel == nil {
			return "", &UnknownFieldError{Entity: m.Entity, Path: path}
		}
		names = append(names, rel.Field.GoName)
		table = rel.JoinTable
	}
	return strings.Join(names, "."), nil
}

func findRelation(table *schema.Table, name string) *schema.Relation {
	if name == "" {
		return nil
	}
	if rel, ok := table.Relations[name]; ok {
		return rel
	}
	for goName, rel := range table.Relations {
		if strings.EqualFold(goName, name) || strings.EqualFold(rel.Field.Name, name) {
			return rel
		}
	}
	return nil
}

var registry = struct {
	sync.RWMutex
	entries map[metadataKey]*Metadata
}{entries: make(map[metadataKey]*Metadata)}

type metadataKey struct {
	dialect string
	typ     reflect.Type
}

// MetadataFor returns the metadata of T as seen by db.
func MetadataFor[T any](db *bun.DB) (*Metadata, error) {
	return MetadataOf(db, reflect.TypeOf((*T)(nil)).Elem())
}

// MetadataOf returns the cached metadata of typ, building it on first use.
func MetadataOf(db *bun.DB, typ reflect.Type) (*Metadata, error) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("repository: entity must be a struct, got %s", typ)
	}
	key := metadataKey{dialect: db.Dialect().Name().String(), typ: typ}

	registry.RLock()
	m, ok := registry.entries[key]
	registry.RUnlock()
	if ok {
		return m, nil
	}

	m = buildMetadata(db.Table(typ))

	registry.Lock()
	defer registry.Unlock()
	if cached, ok := registry.entries[key]; ok {
		return cached, nil
	}
	registry.entries[key] = m
	return m, nil
}

// RegisterModels registers models with Bun, which many-to-many join tables
// need, and builds their metadata up front.
func RegisterModels(db *bun.DB, models ...interface{}) error {
	db.RegisterModel(models...)
	for _, model := range models {
		if _, err := MetadataOf(db, reflect.TypeOf(model)); err != nil {
			return err
		}
	}
	return nil
}

func buildMetadata(table *schema.Table) *Metadata {
	m := &Metadata{
		Entity: table.Type.Name(),
		table:  table,
		byPath: make(map[string]*Field),
		byFold: make(map[string]*Field),
	}
	for _, sf := range table.Fields {
		f := newField(sf, "", "", "", "", nil)
		m.add(f)
		if sf.IsPK {
			m.pks = append(m.pks, f)
		}
	}

	rels := sortedRelations(table)
	for _, rel := range rels {
		m.relations = append(m.relations, &Relation{Name: rel.Field.GoName, Kind: relationKind(rel.Type), rel: rel})
	}
	// Own fields win over nested ones when paths collide.
	for _, rel := range rels {
		m.addJoined(rel, "", "", "", nil, 1, map[reflect.Type]bool{table.Type: true})
	}
	return m
}

func (m *Metadata) addJoined(rel *schema.Relation, goPrefix, sqlPrefix, aliasPrefix string, chain [][]int, depth int, seen map[reflect.Type]bool) {
	if !relationKind(rel.Type).Joined() || depth > maxJoinDepth || seen[rel.JoinTable.Type] {
		return
	}
	goPath := join(goPrefix, rel.Field.GoName, ".")
	sqlPath := join(sqlPrefix, rel.Field.Name, ".")
	alias := join(aliasPrefix, rel.Field.Name, "__")
	chain = append(append([][]int{}, chain...), rel.Field.Index)

	for _, sf := range rel.JoinTable.Fields {
		f := newField(sf, goPath, sqlPath, alias, goPath, chain)
		f.Nullable = true
		f.PK = false
		m.add(f)
	}

	seen[rel.JoinTable.Type] = true
	defer delete(seen, rel.JoinTable.Type)
	for _, next := range sortedRelations(rel.JoinTable) {
		m.addJoined(next, goPath, sqlPath, alias, chain, depth+1, seen)
	}
}

func (m *Metadata) add(f *Field) {
	m.fields = append(m.fields, f)
	for _, p := range []string{f.Path, f.SQLPath} {
		if _, ok := m.byPath[p]; !ok {
			m.byPath[p] = f
		}
		if _, ok := m.byFold[strings.ToLower(p)]; !ok {
			m.byFold[strings.ToLower(p)] = f
		}
	}
}

func newField(sf *schema.Field, goPrefix, sqlPrefix, alias, joinPath string, chain [][]int) *Field {
	return &Field{
		Path:     join(goPrefix, sf.GoName, "."),
		SQLPath:  join(sqlPrefix, sf.Name, "."),
		Column:   sf.Name,
		JoinPath: joinPath,
		Type:     sf.IndirectType,
		Nullable: nullable(sf) && !sf.IsPK,
		PK:       sf.IsPK,
		alias:    alias,
		ptr:      sf.IsPtr,
		chain:    append(append([][]int{}, chain...), sf.Index),
	}
}

func nullable(sf *schema.Field) bool {
	if sf.IsPtr || sf.NullZero {
		return true
	}
	t := sf.StructField.Type
	switch t.Kind() {
	case reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return t.PkgPath() == "database/sql" && strings.HasPrefix(t.Name(), "Null")
}

func relationKind(t int) RelationKind {
	switch t {
	case schema.HasOneRelation:
		return HasOne
	case schema.BelongsToRelation:
		return BelongsTo
	case schema.HasManyRelation:
		return HasMany
	case schema.ManyToManyRelation:
		return ManyToMany
	default:
		return 0
	}
}

// sortedRelations returns the relations of table in declaration order.
func sortedRelations(table *schema.Table) []*schema.Relation {
	rels := make([]*schema.Relation, 0, len(table.Relations))
	for _, rel := range table.Relations {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		a, b := rels[i].Field.Index, rels[j].Field.Index
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
	return rels
}

func join(prefix, name, sep string) string {
	if prefix == "" {
		return name
	}
	return prefix + sep + name
}
