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

import (
	"fmt"
	"strings"
)

// OrderSpec sorts by one field path. Several specs form a total order: the
// first is the primary key, each later one breaks ties of the previous.
type OrderSpec struct {
	FieldPath string
	Ascending bool
}

func Asc(fieldPath string) OrderSpec { return OrderSpec{FieldPath: fieldPath, Ascending: true} }

func Desc(fieldPath string) OrderSpec { return OrderSpec{FieldPath: fieldPath} }

func (o OrderSpec) Direction() Direction {
	if o.Ascending {
		return Ascending
	}
	return Descending
}

func (o OrderSpec) String() string {
	return o.FieldPath + " " + o.Direction().String()
}

// ParseOrders reads order clauses such as "Name DESC", "id" or
// "owner.name asc, id desc". Each argument may hold several comma separated
// clauses; blank clauses are skipped.
func ParseOrders(clauses ...string) ([]OrderSpec, error) {
	var specs []OrderSpec
	for _, clause := range clauses {
		for _, part := range strings.Split(clause, ",") {
			fields := strings.Fields(part)
			switch len(fields) {
			case 0:
				continue
			case 1:
				specs = append(specs, Asc(fields[0]))
			case 2:
				dir, err := ParseDirection(fields[1])
				if err != nil {
					return nil, fmt.Errorf("invalid order clause %q: %w", strings.TrimSpace(part), err)
				}
				specs = append(specs, OrderSpec{FieldPath: fields[0], Ascending: dir == Ascending})
			default:
				return nil, fmt.Errorf("invalid order clause %q", strings.TrimSpace(part))
			}
		}
	}
	return specs, nil
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending", "":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Direction(IllegalValue), fmt.Errorf("unknown sort direction %q", s)
	}
}
