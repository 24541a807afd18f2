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
	"testing"

	"github.com/dimesoftware/dime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderByMultipleKeysBreaksTies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	scores := []*Score{
		{Player: "bob", Points: 5, Round: 2},
		{Player: "ann", Points: 10, Round: 3},
		{Player: "bob", Points: 5, Round: 1},
		{Player: "ann", Points: 20, Round: 2},
		{Player: "ann", Points: 10, Round: 1},
	}
	_, err := db.NewInsert().Model(&scores).Exec(ctx)
	require.NoError(t, err)

	repo, err := NewRepository[Score](db)
	require.NoError(t, err)

	got, err := repo.FindAll(ctx, NewQuery[Score]().
		OrderBy("Player", types.Ascending).
		OrderBy("points", types.Descending).
		OrderBy("Round", types.Ascending))
	require.NoError(t, err)

	want := []Score{
		{Player: "ann", Points: 20, Round: 2},
		{Player: "ann", Points: 10, Round: 1},
		{Player: "ann", Points: 10, Round: 3},
		{Player: "bob", Points: 5, Round: 1},
		{Player: "bob", Points: 5, Round: 2},
	}
	require.Len(t, got, len(want))
	for i, s := range got {
		assert.Equal(t, want[i].Player, s.Player, "row %d", i)
		assert.Equal(t, want[i].Points, s.Points, "row %d", i)
		assert.Equal(t, want[i].Round, s.Round, "row %d", i)
	}
}

func TestOrderByNullPlacement(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	asc, err := repo.FindAll(ctx, NewQuery[Blog]().OrderBy("Rating", types.Ascending))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, blogIDs(asc))

	desc, err := repo.FindAll(ctx, NewQuery[Blog]().OrderBy("Rating", types.Descending))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, blogIDs(desc))
}

func TestOrderByNestedPath(t *testing.T) {
	repo, _ := newBlogRepo(t)

	blogs, err := repo.FindAll(context.Background(), NewQuery[Blog]().OrderByString("Owner.Name desc, ID"))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 3}, blogIDs(blogs))
}

func TestOrderByRejectsUnknownPaths(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	for _, clause := range []string{"Nope", "Posts.Title", "Owner.Nope"} {
		_, err := repo.FindAll(ctx, NewQuery[Blog]().OrderByString(clause))
		var ufe *UnknownFieldError
		require.ErrorAs(t, err, &ufe, clause)
		assert.Equal(t, "Blog", ufe.Entity)
		assert.Equal(t, clause, ufe.Path)
	}

	_, err := repo.FindAll(ctx, NewQuery[Blog]().OrderByString("ID sideways"))
	assert.Error(t, err)
}

func TestOrderingSQL(t *testing.T) {
	repo, db := newBlogRepo(t)
	impl := repo.(*baseRepositoryImpl[Blog])

	tests := []struct {
		name     string
		query    *Query[Blog]
		win      window
		contains []string
		absent   []string
	}{
		{
			name:     "nullable descending",
			query:    NewQuery[Blog]().OrderBy("Rating", types.Descending),
			contains: []string{`ORDER BY "b"."rating" IS NULL ASC, "b"."rating" DESC`},
		},
		{
			name:     "not null ascending",
			query:    NewQuery[Blog]().OrderBy("URL", types.Ascending),
			contains: []string{`ORDER BY "b"."url" ASC`},
			absent:   []string{"IS NULL"},
		},
		{
			name:     "joined path",
			query:    NewQuery[Blog]().OrderBy("owner.name", types.Ascending),
			contains: []string{`LEFT JOIN "owners" AS "owner"`, `"owner"."name" IS NULL DESC, "owner"."name" ASC`},
		},
		{
			name:     "paged without order",
			query:    NewQuery[Blog]().Page(2, 2),
			win:      window{page: 2, size: 2},
			contains: []string{`ORDER BY "b"."id" ASC`, "LIMIT 2", "OFFSET 2"},
		},
		{
			name:   "unpaged without order",
			query:  NewQuery[Blog](),
			absent: []string{"ORDER BY"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var blogs []*Blog
			sq, err := impl.selectQuery(db, &blogs, tt.query, tt.win)
			require.NoError(t, err)
			query := sq.String()
			for _, s := range tt.contains {
				assert.Contains(t, query, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, query, s)
			}
		})
	}
}

func TestStableOrderingCanBeDisabled(t *testing.T) {
	repo, db := newBlogRepo(t, WithStableOrdering(false))
	impl := repo.(*baseRepositoryImpl[Blog])

	var blogs []*Blog
	sq, err := impl.selectQuery(db, &blogs, NewQuery[Blog]().Page(1, 2), window{page: 1, size: 2})
	require.NoError(t, err)
	assert.NotContains(t, sq.String(), "ORDER BY")
}

func TestFindPagePartitionsRows(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateAll(ctx, []*Blog{{URL: "d"}, {URL: "e"}, {URL: "f"}, {URL: "g"}}))

	all, err := repo.Count(ctx, Predicate[Blog]{})
	require.NoError(t, err)
	require.Equal(t, int64(7), all)

	for _, size := range []int{1, 2, 3, 4, 7, 10} {
		seen := make(map[int64]bool)
		for page := 1; ; page++ {
			p, err := repo.FindPage(ctx, NewQuery[Blog]().OrderByString("URL desc").Page(page, size))
			require.NoError(t, err)
			assert.Equal(t, all, p.TotalCount)
			assert.LessOrEqual(t, len(p.Items), size)
			if len(p.Items) == 0 {
				assert.Equal(t, p.TotalPages(), page-1, "size %d", size)
				break
			}
			for _, b := range p.Items {
				assert.False(t, seen[b.ID], "blog %d on two pages of size %d", b.ID, size)
				seen[b.ID] = true
			}
		}
		assert.Len(t, seen, int(all), "size %d", size)
	}
}

func TestFindPageCountIgnoresOrderingAndWindow(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()
	filter := Or(IsNull[Blog]("Rating"), Gt[Blog]("Rating", 4))

	want, err := repo.Count(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, int64(2), want)

	queries := []*Query[Blog]{
		NewQuery[Blog]().Filter(filter),
		NewQuery[Blog]().Filter(filter).Page(1, 1),
		NewQuery[Blog]().Filter(filter).Page(5, 1),
		NewQuery[Blog]().Filter(filter).OrderByString("Owner.Name desc").Page(2, 1),
		NewQuery[Blog]().Filter(filter).IncludeAll().Page(1, 10),
	}
	for _, q := range queries {
		p, err := repo.FindPage(ctx, q)
		require.NoError(t, err, q.String())
		assert.Equal(t, want, p.TotalCount, q.String())
	}
}

func TestFindPageEdgeCases(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	empty, err := repo.FindPage(ctx, NewQuery[Blog]().Filter(Gt[Blog]("ID", 100)).Page(1, 2))
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
	assert.Zero(t, empty.TotalCount)
	assert.Zero(t, empty.TotalPages())

	unpaged, err := repo.FindPage(ctx, NewQuery[Blog]().Page(0, 2))
	require.NoError(t, err)
	assert.Len(t, unpaged.Items, 3)
	assert.Equal(t, 1, unpaged.TotalPages())
	assert.False(t, unpaged.HasNext())

	first, err := repo.FindPage(ctx, NewQuery[Blog]().Page(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, blogIDs(first.Items))
	assert.True(t, first.HasNext())

	_, err = repo.FindPage(ctx, NewQuery[Blog]().Page(-1, 2))
	assert.ErrorIs(t, err, ErrInvalidPage)
	_, err = repo.FindAll(ctx, NewQuery[Blog]().Take(-1))
	assert.ErrorIs(t, err, ErrInvalidPage)

	taken, err := repo.FindAll(ctx, NewQuery[Blog]().OrderByString("ID desc").Take(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, blogIDs(taken))
}

func TestFindPageClampsPageSize(t *testing.T) {
	repo, _ := newBlogRepo(t, WithMaxPageSize(2))

	p, err := repo.FindPage(context.Background(), NewQuery[Blog]().Page(1, 50))
	require.NoError(t, err)
	assert.Len(t, p.Items, 2)
	assert.Equal(t, 2, p.PageSize)
	assert.Equal(t, 2, p.TotalPages())
}

func TestFromPageRequest(t *testing.T) {
	repo, _ := newBlogRepo(t)

	q := FromPageRequest(types.NewPageRequest(2, 1, "URL desc"), NotNull[Blog]("OwnerID"))
	p, err := repo.FindPage(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.TotalCount)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "b", p.Items[0].URL)

	_, err = repo.FindPage(context.Background(), FromPageRequest(types.NewPageRequest(1, 1, "url; DROP TABLE blogs"), Predicate[Blog]{}))
	assert.Error(t, err)
}

func TestInclusion(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()
	byID := Eq[Blog]("ID", 1)

	none, err := repo.FindOne(ctx, NewQuery[Blog]().Filter(byID))
	require.NoError(t, err)
	assert.Nil(t, none.Owner)
	assert.Empty(t, none.Posts)

	all, err := repo.FindOne(ctx, NewQuery[Blog]().Filter(byID).IncludeAll())
	require.NoError(t, err)
	require.NotNil(t, all.Owner)
	assert.Equal(t, "alice", all.Owner.Name)
	assert.Len(t, all.Posts, 2)

	posts, err := repo.FindOne(ctx, NewQuery[Blog]().Filter(byID).Include("Posts"))
	require.NoError(t, err)
	assert.Nil(t, posts.Owner)
	assert.Len(t, posts.Posts, 2)

	// explicit paths win over IncludeAll
	owner, err := repo.FindOne(ctx, NewQuery[Blog]().Filter(byID).IncludeAll().Include("owner", "Owner", " "))
	require.NoError(t, err)
	require.NotNil(t, owner.Owner)
	assert.Empty(t, owner.Posts)

	_, err = repo.FindOne(ctx, NewQuery[Blog]().Include("Comments"))
	assert.True(t, IsUnknownField(err))
}

func TestResolveIncludes(t *testing.T) {
	db := newTestDB(t)
	meta, err := MetadataFor[Blog](db)
	require.NoError(t, err)

	tests := []struct {
		name       string
		includeAll bool
		paths      []string
		want       []string
	}{
		{name: "nothing", want: nil},
		{name: "blank only", paths: []string{"", "  "}, want: nil},
		{name: "all", includeAll: true, want: []string{"Owner", "Posts"}},
		{name: "explicit deduplicated", includeAll: true, paths: []string{"posts", "Posts", ""}, want: []string{"Posts"}},
		{name: "sql names", paths: []string{"owner", "posts"}, want: []string{"Owner", "Posts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveIncludes(meta, tt.includeAll, tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindByID(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	blog, err := repo.FindByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "c", blog.URL)

	_, err = repo.FindByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	exists, err := repo.Exists(ctx, Eq[Blog]("Owner.Name", "bob"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSelectNarrowsColumns(t *testing.T) {
	repo, _ := newBlogRepo(t)

	blogs, err := repo.FindAll(context.Background(), NewQuery[Blog]().Select("URL").OrderByString("ID"))
	require.NoError(t, err)
	require.Len(t, blogs, 3)
	assert.Equal(t, int64(1), blogs[0].ID)
	assert.Equal(t, "a", blogs[0].URL)
	assert.Nil(t, blogs[0].Rating)
	assert.Zero(t, blogs[0].OwnerID)

	_, err = repo.FindAll(context.Background(), NewQuery[Blog]().Select("Owner.Name"))
	assert.ErrorIs(t, err, ErrUnsupportedPath)
}
