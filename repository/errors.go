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
	"errors"
	"fmt"
	"reflect"

	"github.com/dimesoftware/dime/database"
)

var (
	// ErrNotFound is returned by single-entity reads that match nothing. It
	// also matches sql.ErrNoRows through errors.Is.
	ErrNotFound = errors.New("repository: entity not found")

	ErrInvalidPage     = errors.New("repository: page and page size must not be negative")
	ErrNoAssignments   = errors.New("repository: update needs at least one assignment")
	ErrCompositeKey    = errors.New("repository: operation needs a single-column primary key")
	ErrUnsupportedPath = errors.New("repository: field path not supported in this position")

	// ErrConcurrencyConflict matches lost updates reported by the store.
	ErrConcurrencyConflict = database.ErrConcurrencyConflict
)

// UnknownFieldError reports a field path that does not resolve against the
// entity's metadata.
type UnknownFieldError struct {
	Entity string
	Path   string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("repository: unknown field %q on %s", e.Path, e.Entity)
}

// FieldTypeError reports a value that cannot be stored in a field.
type FieldTypeError struct {
	Path  string
	Want  reflect.Type
	Value interface{}
}

func (e *FieldTypeError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("repository: field %q of type %s is not nullable", e.Path, e.Want)
	}
	return fmt.Sprintf("repository: cannot assign %T to field %q of type %s", e.Value, e.Path, e.Want)
}

// IsUnknownField reports whether err carries an UnknownFieldError.
func IsUnknownField(err error) bool {
	var ufe *UnknownFieldError
	return errors.As(err, &ufe)
}
