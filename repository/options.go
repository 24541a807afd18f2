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
	"github.com/dimesoftware/dime/database"
)

// Option configures a repository.
type Option func(*config)

type config struct {
	stableOrdering bool
	maxPageSize    int
	sessions       database.SessionFactory
	logger         database.Logger
}

func defaultConfig() *config {
	qc := database.DefaultQueryConfig()
	return &config{stableOrdering: qc.StableOrdering, maxPageSize: qc.MaxPageSize}
}

// WithQueryConfig applies loaded query settings.
func WithQueryConfig(qc database.QueryConfig) Option {
	return func(c *config) {
		c.stableOrdering = qc.StableOrdering
		c.maxPageSize = qc.MaxPageSize
	}
}

// WithStableOrdering controls whether windowed reads without an explicit
// order are ordered by primary key. When off they are left unordered.
func WithStableOrdering(on bool) Option {
	return func(c *config) { c.stableOrdering = on }
}

// WithMaxPageSize caps page sizes; zero disables the cap.
func WithMaxPageSize(n int) Option {
	return func(c *config) { c.maxPageSize = n }
}

func WithSessionFactory(f database.SessionFactory) Option {
	return func(c *config) { c.sessions = f }
}

func WithLogger(l database.Logger) Option {
	return func(c *config) { c.logger = l }
}

// ScopeOption configures the unit of work of one call.
type ScopeOption func(*scope)

type scope struct {
	commit  bool
	session *database.Session
}

func newScope(opts []ScopeOption) scope {
	s := scope{commit: true}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithCommit controls whether staged changes are written when the call
// returns. With false they stay staged in the session; a session the
// repository opened itself is released anyway, so pair it with WithSession
// to keep them.
func WithCommit(commit bool) ScopeOption {
	return func(s *scope) { s.commit = commit }
}

// WithSession runs the call inside a session owned by the caller. The
// repository never releases it.
func WithSession(session *database.Session) ScopeOption {
	return func(s *scope) { s.session = session }
}
