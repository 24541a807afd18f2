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
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dimesoftware/dime/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Owner struct {
	bun.BaseModel `bun:"table:owners,alias:o"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type Blog struct {
	bun.BaseModel `bun:"table:blogs,alias:b"`

	ID      int64   `bun:"id,pk,autoincrement"`
	URL     string  `bun:"url,notnull"`
	Rating  *int    `bun:"rating"`
	OwnerID int64   `bun:"owner_id"`
	Owner   *Owner  `bun:"rel:belongs-to,join:owner_id=id"`
	Posts   []*Post `bun:"rel:has-many,join:id=blog_id"`
}

type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID     int64  `bun:"id,pk,autoincrement"`
	BlogID int64  `bun:"blog_id"`
	Title  string `bun:"title"`
}

// Score has no primary key, so several rows may share every column used for
// ordering.
type Score struct {
	bun.BaseModel `bun:"table:scores,alias:s"`

	Player string `bun:"player"`
	Points int    `bun:"points"`
	Round  int    `bun:"round"`
}

func intPtr(v int) *int { return &v }

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	return prepareTestDB(t, sqldb)
}

// newFileTestDB opens a WAL-mode database file with several connections, so
// reads outside a session still see the committed state while the session
// holds an open transaction.
func newFileTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "blogs.db"))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(4)
	var mode string
	require.NoError(t, sqldb.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode))
	return prepareTestDB(t, sqldb)
}

func prepareTestDB(t *testing.T, sqldb *sql.DB) *bun.DB {
	t.Helper()
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.CreateTables(context.Background(), db,
		(*Owner)(nil), (*Blog)(nil), (*Post)(nil), (*Score)(nil)))
	return db
}

// seedBlogs stores blogs a, b and c with ids 1 to 3. Blog 2 has no rating and
// belongs to bob; blog 1 has two posts and blog 2 one.
func seedBlogs(t *testing.T, db *bun.DB) {
	t.Helper()
	ctx := context.Background()
	owners := []*Owner{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}}
	blogs := []*Blog{
		{ID: 1, URL: "a", Rating: intPtr(5), OwnerID: 1},
		{ID: 2, URL: "b", OwnerID: 2},
		{ID: 3, URL: "c", Rating: intPtr(3), OwnerID: 1},
	}
	posts := []*Post{
		{ID: 1, BlogID: 1, Title: "first"},
		{ID: 2, BlogID: 1, Title: "second"},
		{ID: 3, BlogID: 2, Title: "third"},
	}
	_, err := db.NewInsert().Model(&owners).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&blogs).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&posts).Exec(ctx)
	require.NoError(t, err)
}

func newBlogRepo(t *testing.T, opts ...Option) (Repository[Blog], *bun.DB) {
	t.Helper()
	return seededBlogRepo(t, newTestDB(t), opts...)
}

func seededBlogRepo(t *testing.T, db *bun.DB, opts ...Option) (Repository[Blog], *bun.DB) {
	t.Helper()
	seedBlogs(t, db)
	repo, err := NewRepository[Blog](db, opts...)
	require.NoError(t, err)
	return repo, db
}

func blogIDs(blogs []*Blog) []int64 {
	ids := make([]int64, len(blogs))
	for i, b := range blogs {
		ids[i] = b.ID
	}
	return ids
}

func blogURLs(t *testing.T, repo Repository[Blog]) []string {
	t.Helper()
	blogs, err := repo.FindAll(context.Background(), NewQuery[Blog]().OrderByString("ID"))
	require.NoError(t, err)
	urls := make([]string, len(blogs))
	for i, b := range blogs {
		urls[i] = b.URL
	}
	return urls
}
