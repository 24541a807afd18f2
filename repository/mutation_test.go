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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateWhereWithPerRowExpression(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	n, err := repo.UpdateWhere(ctx, Lte[Blog]("ID", 2), []Assignment{
		SetExpr("URL", Concat(Col("URL"), "/x")),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"a/x", "b/x", "c"}, blogURLs(t, repo))
}

func TestUpdateWhereWithLiteral(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	n, err := repo.UpdateWhere(ctx, Lte[Blog]("ID", 2), []Assignment{Set("URL", "Z")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"Z", "Z", "c"}, blogURLs(t, repo))
}

func TestUpdateWhereCountsMatchedRows(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Predicate[Blog]
		want   int64
	}{
		{name: "no match", filter: Gt[Blog]("ID", 100), want: 0},
		{name: "nullable column", filter: IsNull[Blog]("Rating"), want: 1},
		{name: "combined", filter: Or(Eq[Blog]("ID", 1), Eq[Blog]("url", "c")), want: 2},
		// runs last, it fills every rating
		{name: "all rows", filter: Predicate[Blog]{}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := repo.Count(ctx, tt.filter)
			require.NoError(t, err)

			n, err := repo.UpdateWhere(ctx, tt.filter, []Assignment{SetExpr("Rating", Add(Col("OwnerID"), 10))})
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, before, n)
		})
	}
}

func TestUpdateWhereValidatesAssignments(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	_, err := repo.UpdateWhere(ctx, Eq[Blog]("ID", 1), nil)
	assert.ErrorIs(t, err, ErrNoAssignments)

	_, err = repo.UpdateWhere(ctx, Eq[Blog]("ID", 1), []Assignment{Set("Missing", 1)})
	assert.True(t, IsUnknownField(err))

	var typeErr *FieldTypeError
	_, err = repo.UpdateWhere(ctx, Eq[Blog]("ID", 1), []Assignment{Set("Rating", "high")})
	assert.ErrorAs(t, err, &typeErr)

	_, err = repo.UpdateWhere(ctx, Eq[Blog]("ID", 1), []Assignment{Set("URL", nil)})
	assert.ErrorAs(t, err, &typeErr)

	_, err = repo.UpdateWhere(ctx, Eq[Blog]("ID", 1), []Assignment{Set("Owner.Name", "x")})
	assert.ErrorIs(t, err, ErrUnsupportedPath)

	_, err = repo.UpdateWhere(ctx, Eq[Blog]("Owner.Name", "bob"), []Assignment{Set("URL", "x")})
	assert.ErrorIs(t, err, ErrUnsupportedPath)

	assert.Equal(t, []string{"a", "b", "c"}, blogURLs(t, repo))
}

func TestUpdateWhereAcceptsConvertibleAndNullValues(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	n, err := repo.UpdateWhere(ctx, Eq[Blog]("ID", 1), []Assignment{Set("Rating", nil)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.UpdateWhere(ctx, Eq[Blog]("ID", 2), []Assignment{Set("Rating", int64(4))})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	blog, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, blog.Rating)
	blog, err = repo.FindByID(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, blog.Rating)
	assert.Equal(t, 4, *blog.Rating)
}

func TestDeleteByIDs(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.DeleteByIDs(ctx, []any{1, 2, 2}))

	total, err := repo.Count(ctx, Predicate[Blog]{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDeleteByIDsSkipsMissing(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.DeleteByIDs(ctx, []any{3, 42, nil}))
	require.NoError(t, repo.DeleteByIDs(ctx, nil))

	total, err := repo.Count(ctx, Predicate[Blog]{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestDeleteMissingIDIsNoop(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, 99))

	total, err := repo.Count(ctx, Predicate[Blog]{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, repo.Delete(ctx, 2))
	exists, err := repo.Exists(ctx, Eq[Blog]("ID", 2))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteReadsKeyFromStore(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, "1"))
	assert.Equal(t, []string{"b", "c"}, blogURLs(t, repo))

	require.NoError(t, repo.Delete(ctx, "9"))
	assert.Equal(t, []string{"b", "c"}, blogURLs(t, repo))
}

func TestDeleteEntities(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	blogs, err := repo.FindAll(ctx, NewQuery[Blog]().Filter(Gte[Blog]("ID", 2)))
	require.NoError(t, err)
	require.Len(t, blogs, 2)

	require.NoError(t, repo.DeleteEntities(ctx, nil))
	// never stored, so skipped
	require.NoError(t, repo.DeleteEntities(ctx, append(blogs, &Blog{URL: "new"})))

	remaining, err := repo.FindAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, blogIDs(remaining))

	require.NoError(t, repo.DeleteEntity(ctx, &Blog{ID: 1}))
	total, err := repo.Count(ctx, Predicate[Blog]{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteWhere(t *testing.T) {
	repo, _ := newBlogRepo(t)
	ctx := context.Background()

	n, err := repo.DeleteWhere(ctx, NotNull[Blog]("Rating"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.DeleteWhere(ctx, Eq[Blog]("ID", 1))
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"b"}, blogURLs(t, repo))
}

func TestDeleteByIDsNeedsSingleKey(t *testing.T) {
	db := newTestDB(t)
	repo, err := NewRepository[Score](db)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteByIDs(context.Background(), []any{1}), ErrCompositeKey)
	assert.ErrorIs(t, repo.Delete(context.Background(), 1), ErrCompositeKey)
	_, err = repo.FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCompositeKey)
}
