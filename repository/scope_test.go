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
	"fmt"
	"testing"

	"github.com/dimesoftware/dime/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCommitsByDefault(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	blog := &Blog{URL: "d", OwnerID: 2}
	require.NoError(t, repo.Create(ctx, blog))
	assert.NotZero(t, blog.ID)

	stored, err := repo.FindByID(ctx, blog.ID)
	require.NoError(t, err)
	assert.Equal(t, "d", stored.URL)
}

func TestCommitFalseLeavesStoreUnchanged(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Blog{URL: "d"}, WithCommit(false)))
	require.NoError(t, repo.Delete(ctx, 1, WithCommit(false)))
	require.NoError(t, repo.Update(ctx, &Blog{ID: 2, URL: "changed"}, WithCommit(false)))

	assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))
}

type setBasedWrite struct {
	name string
	run  func(ctx context.Context, repo Repository[Blog], opts ...ScopeOption) error
	want []string
}

func setBasedWrites() []setBasedWrite {
	return []setBasedWrite{
		{
			name: "update where",
			run: func(ctx context.Context, repo Repository[Blog], opts ...ScopeOption) error {
				n, err := repo.UpdateWhere(ctx, Lte[Blog]("ID", 2), []Assignment{Set("URL", "Z")}, opts...)
				if err == nil && n != 2 {
					return fmt.Errorf("updated %d rows, want 2", n)
				}
				return err
			},
			want: []string{"Z", "Z", "c"},
		},
		{
			name: "delete where",
			run: func(ctx context.Context, repo Repository[Blog], opts ...ScopeOption) error {
				n, err := repo.DeleteWhere(ctx, Lte[Blog]("ID", 2), opts...)
				if err == nil && n != 2 {
					return fmt.Errorf("deleted %d rows, want 2", n)
				}
				return err
			},
			want: []string{"c"},
		},
		{
			name: "upsert",
			run: func(ctx context.Context, repo Repository[Blog], opts ...ScopeOption) error {
				blogs := []*Blog{{ID: 1, URL: "a2", OwnerID: 1}, {ID: 4, URL: "d", OwnerID: 2}}
				return repo.Upsert(ctx, blogs, []string{"URL"}, nil, opts...)
			},
			want: []string{"a2", "b", "c", "d"},
		},
	}
}

func TestSetBasedWritesHonourCommitFlag(t *testing.T) {
	ctx := context.Background()
	for _, tt := range setBasedWrites() {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := newBlogRepo(t)
			require.NoError(t, tt.run(ctx, repo, WithCommit(false)))
			assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))

			require.NoError(t, tt.run(ctx, repo))
			assert.Equal(t, tt.want, blogURLs(t, repo))
		})
	}
}

func TestSetBasedWritesStageInCallerSession(t *testing.T) {
	ctx := context.Background()
	for _, tt := range setBasedWrites() {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := seededBlogRepo(t, newFileTestDB(t))
			s, err := repo.Sessions().Open(ctx)
			require.NoError(t, err)
			defer s.Release()

			require.NoError(t, tt.run(ctx, repo, WithSession(s), WithCommit(false)))
			assert.Equal(t, database.SessionStagedUncommitted, s.State())
			assert.Equal(t, 1, s.Pending())
			assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))

			_, err = s.Commit(ctx)
			require.NoError(t, err)
			assert.Equal(t, database.SessionCommitted, s.State())
			assert.Equal(t, 0, s.Pending())
			assert.Equal(t, tt.want, blogURLs(t, repo))
		})
	}
}

func TestReleaseDiscardsStagedSetBasedWrites(t *testing.T) {
	ctx := context.Background()
	for _, tt := range setBasedWrites() {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := newBlogRepo(t)
			s, err := repo.Sessions().Open(ctx)
			require.NoError(t, err)

			require.NoError(t, tt.run(ctx, repo, WithSession(s), WithCommit(false)))
			s.Release()
			assert.Equal(t, database.SessionReleased, s.State())
			assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))
		})
	}
}

func TestCallerSessionCommitsMixedWorkTogether(t *testing.T) {
	repo, _ := seededBlogRepo(t, newFileTestDB(t))
	ctx := context.Background()

	s, err := repo.Sessions().Open(ctx)
	require.NoError(t, err)
	defer s.Release()

	require.NoError(t, repo.Create(ctx, &Blog{URL: "d", OwnerID: 1}, WithSession(s), WithCommit(false)))
	n, err := repo.UpdateWhere(ctx, Eq[Blog]("ID", 3), []Assignment{Set("URL", "c2")}, WithSession(s), WithCommit(false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, repo.Delete(ctx, 1, WithSession(s), WithCommit(false)))

	staged, err := repo.FindByID(ctx, 3, WithSession(s))
	require.NoError(t, err)
	assert.Equal(t, "c2", staged.URL)

	assert.Equal(t, 3, s.Pending())
	assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))

	n, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"b", "c2", "d"}, blogURLs(t, repo))
}

func TestCallerOwnedSession(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	s, err := repo.Sessions().Open(ctx)
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, database.SessionPending, s.State())

	blog, err := repo.FindByID(ctx, 1, WithSession(s))
	require.NoError(t, err)
	blog.URL = "a2"

	require.NoError(t, repo.Create(ctx, &Blog{URL: "d"}, WithSession(s), WithCommit(false)))
	require.NoError(t, repo.Update(ctx, blog, WithSession(s), WithCommit(false)))
	require.NoError(t, repo.DeleteByIDs(ctx, []any{3}, WithSession(s), WithCommit(false)))

	assert.Equal(t, database.SessionStagedUncommitted, s.State())
	assert.Equal(t, 3, s.Pending())
	assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))

	n, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, database.SessionCommitted, s.State())
	assert.Equal(t, []string{"a2", "b", "d"}, blogURLs(t, repo))

	s.Release()
	err = repo.Create(ctx, &Blog{URL: "e"}, WithSession(s))
	assert.ErrorIs(t, err, database.ErrSessionReleased)
}

func TestUpdateReplacesTrackedInstance(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	s, err := repo.Sessions().Open(ctx)
	require.NoError(t, err)
	defer s.Release()

	first := &Blog{ID: 1, URL: "first", OwnerID: 1}
	second := &Blog{ID: 1, URL: "second", OwnerID: 1}
	require.NoError(t, repo.Update(ctx, first, WithSession(s), WithCommit(false)))
	require.NoError(t, repo.UpdateAll(ctx, []*Blog{second}, WithSession(s), WithCommit(false)))
	assert.Equal(t, 1, s.Pending())

	_, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "b", "c"}, blogURLs(t, repo))
}

func TestUpdateColumnsWritesOnlyNamedFields(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	blog, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	blog.URL = "renamed"
	blog.Rating = intPtr(99)

	require.NoError(t, repo.UpdateColumns(ctx, blog, []string{"url"}))

	stored, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.URL)
	require.NotNil(t, stored.Rating)
	assert.Equal(t, 5, *stored.Rating)

	assert.ErrorIs(t, repo.UpdateColumns(ctx, blog, nil), ErrNoAssignments)
	assert.True(t, IsUnknownField(repo.UpdateColumns(ctx, blog, []string{"nope"})))
}

func TestUpdateWithLoadedRelations(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	blog, err := repo.FindOne(ctx, NewQuery[Blog]().Filter(Eq[Blog]("ID", 1)).IncludeAll())
	require.NoError(t, err)
	blog.URL = "graph"
	blog.Owner.Name = "not written"

	require.NoError(t, repo.Update(ctx, blog))

	stored, err := repo.FindOne(ctx, NewQuery[Blog]().Filter(Eq[Blog]("ID", 1)).Include("Owner"))
	require.NoError(t, err)
	assert.Equal(t, "graph", stored.URL)
	assert.Equal(t, "alice", stored.Owner.Name)
}

func TestUpsert(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	err := repo.Upsert(ctx, []*Blog{
		{ID: 1, URL: "a2", OwnerID: 1},
		{ID: 4, URL: "d", OwnerID: 2},
	}, []string{"URL"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "b", "c", "d"}, blogURLs(t, repo))

	kept, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, kept.Rating)
	assert.Equal(t, 5, *kept.Rating)

	require.NoError(t, repo.Upsert(ctx, []*Blog{{ID: 1, URL: "a3", OwnerID: 2}}, nil, []string{"ID"}))
	replaced, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a3", replaced.URL)
	assert.Nil(t, replaced.Rating)
	assert.Equal(t, int64(2), replaced.OwnerID)

	require.NoError(t, repo.Upsert(ctx, nil, nil, nil))
}
