package repository

import (
	"context"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
)

// CourseRepository provides document access for courses.
type CourseRepository struct {
	store store.Store
}

// NewCourseRepository creates a new instance of CourseRepository.
func NewCourseRepository(s store.Store) *CourseRepository {
	return &CourseRepository{store: s}
}

// AllCoursesQuery selects every course ordered by title.
func AllCoursesQuery() store.Query {
	return store.Query{Collection: CollectionCourses, OrderBy: "title"}
}

// CoursesByInstructorQuery selects courses taught by instructor.
func CoursesByInstructorQuery(instructor string) store.Query {
	return AllCoursesQuery().Where("instructor", store.OpEqual, instructor)
}

// CoursesByCategoryQuery selects courses in category.
func CoursesByCategoryQuery(category string) store.Query {
	return AllCoursesQuery().Where("category", store.OpEqual, category)
}

// CoursesByIDsQuery selects the courses whose id is in ids.
func CoursesByIDsQuery(ids []string) store.Query {
	return AllCoursesQuery().Where("id", store.OpIn, ids)
}

// CourseQuery addresses a single course.
func CourseQuery(id string) store.Query {
	return store.Query{Collection: CollectionCourses, ID: id}
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	return get[models.Course](ctx, r.store, CollectionCourses, id)
}

// Find runs a one-shot course query.
func (r *CourseRepository) Find(ctx context.Context, q store.Query) ([]models.Course, error) {
	return find[models.Course](ctx, r.store, q)
}

// FindByIDs fetches courses by id. An empty id set returns an empty list without a store call.
func (r *CourseRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	if len(ids) == 0 {
		return []models.Course{}, nil
	}
	return r.Find(ctx, CoursesByIDsQuery(ids))
}

// Save overwrites the course document.
func (r *CourseRepository) Save(ctx context.Context, course *models.Course) error {
	return put(ctx, r.store, CollectionCourses, course.ID, course)
}

// CreateIfAbsent stores course unless a course with its id exists. It returns
// the stored course and whether this call created it.
func (r *CourseRepository) CreateIfAbsent(ctx context.Context, course *models.Course) (*models.Course, bool, error) {
	return createIfAbsent(ctx, r.store, CollectionCourses, course.ID, course)
}

// Mutate applies fn to the stored course atomically. A missing course is store.ErrNotFound.
func (r *CourseRepository) Mutate(ctx context.Context, id string, fn func(*models.Course) error) (*models.Course, error) {
	return mutate(ctx, r.store, CollectionCourses, id, fn)
}

// AdjustEnrolledStudents adds delta to the enrolled counter.
func (r *CourseRepository) AdjustEnrolledStudents(ctx context.Context, id string, delta int) (*models.Course, error) {
	return r.Mutate(ctx, id, func(c *models.Course) error {
		c.EnrolledStudents += delta
		if c.EnrolledStudents < 0 {
			c.EnrolledStudents = 0
		}
		return nil
	})
}

// SetEnrolledStudents overwrites the enrolled counter.
func (r *CourseRepository) SetEnrolledStudents(ctx context.Context, id string, count int) (*models.Course, error) {
	return r.Mutate(ctx, id, func(c *models.Course) error {
		if c.EnrolledStudents == count {
			return store.ErrAbort
		}
		c.EnrolledStudents = count
		return nil
	})
}
