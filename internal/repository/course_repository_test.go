package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
)

func seedCourses(t *testing.T, repo *CourseRepository) {
	t.Helper()
	for _, c := range []models.Course{
		{ID: "c1", Title: "Go Basics", Instructor: "Rob", Category: "programming"},
		{ID: "c2", Title: "Algebra", Instructor: "Emmy", Category: "math"},
		{ID: "c3", Title: "Concurrency", Instructor: "Rob", Category: "programming"},
	} {
		course := c
		require.NoError(t, repo.Save(context.Background(), &course))
	}
}

func TestCourseRepositoryQueries(t *testing.T) {
	repo := NewCourseRepository(store.NewMemoryStore())
	seedCourses(t, repo)
	ctx := context.Background()

	all, err := repo.Find(ctx, AllCoursesQuery())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Algebra", all[0].Title)

	byInstructor, err := repo.Find(ctx, CoursesByInstructorQuery("Rob"))
	require.NoError(t, err)
	assert.Len(t, byInstructor, 2)

	byCategory, err := repo.Find(ctx, CoursesByCategoryQuery("math"))
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "c2", byCategory[0].ID)

	byIDs, err := repo.FindByIDs(ctx, []string{"c3", "missing"})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)
	assert.Equal(t, "c3", byIDs[0].ID)

	none, err := repo.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCourseRepositoryMutate(t *testing.T) {
	repo := NewCourseRepository(store.NewMemoryStore())
	seedCourses(t, repo)
	ctx := context.Background()

	updated, err := repo.AdjustEnrolledStudents(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EnrolledStudents)

	updated, err = repo.SetEnrolledStudents(ctx, "c1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.EnrolledStudents)

	_, err = repo.Mutate(ctx, "missing", func(*models.Course) error { return nil })
	assert.True(t, IsNotFound(err))
}

func TestDecodeAllFailsWholeSet(t *testing.T) {
	_, err := DecodeAll[models.Course]([]models.Record{
		{"id": "c1"},
		{"id": "c2", "sections": "not a list"},
	})
	require.ErrorIs(t, err, models.ErrDecode)
}
