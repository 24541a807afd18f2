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
)

// ResolveIncludes returns the relation paths to eager-load. Explicit paths
// win: blanks are dropped, each is resolved to its Go names and duplicates
// are removed. With no explicit path, includeAll selects every direct
// relation; otherwise nothing is loaded.
func ResolveIncludes(meta *Metadata, includeAll bool, paths ...string) ([]string, error) {
	var resolved []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		name, err := meta.RelationPath(p)
		if err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			resolved = append(resolved, name)
		}
	}
	if len(resolved) > 0 || !includeAll {
		return resolved, nil
	}
	for _, rel := range meta.Relations() {
		resolved = append(resolved, rel.Name)
	}
	return resolved, nil
}

// ApplyIncludes eager-loads relations on sq as ResolveIncludes selects them.
func ApplyIncludes(sq *bun.SelectQuery, meta *Metadata, includeAll bool, paths ...string) (*bun.SelectQuery, error) {
	names, err := ResolveIncludes(meta, includeAll, paths...)
	if err != nil {
		return sq, err
	}
	for _, name := range names {
		sq = sq.Relation(name)
	}
	return sq, nil
}
