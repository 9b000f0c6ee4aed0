package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
)

// ErrPairMismatch means a stored enrollment does not belong to the pair its
// key was derived from.
var ErrPairMismatch = errors.New("enrollment document does not match its pair")

// EnrollmentRepository handles persistence of enrollments. Documents are keyed
// by models.EnrollmentID.
type EnrollmentRepository struct {
	store store.Store
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(s store.Store) *EnrollmentRepository {
	return &EnrollmentRepository{store: s}
}

// EnrollmentsByStudentQuery selects every enrollment of a student.
func EnrollmentsByStudentQuery(studentID string) store.Query {
	return store.Query{Collection: CollectionEnrollments, OrderBy: "enrolledDate"}.
		Where("studentId", store.OpEqual, studentID)
}

// EnrollmentsByCourseQuery selects every enrollment in a course.
func EnrollmentsByCourseQuery(courseID string) store.Query {
	return store.Query{Collection: CollectionEnrollments, OrderBy: "enrolledDate"}.
		Where("courseId", store.OpEqual, courseID)
}

// EnrollmentQuery addresses the enrollment of one (student, course) pair.
func EnrollmentQuery(studentID, courseID string) store.Query {
	return store.Query{Collection: CollectionEnrollments, ID: models.EnrollmentID(studentID, courseID)}
}

// Find returns the enrollment for a pair.
func (r *EnrollmentRepository) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	e, err := get[models.Enrollment](ctx, r.store, CollectionEnrollments, models.EnrollmentID(studentID, courseID))
	if err != nil {
		return nil, err
	}
	if err := checkPair(e, studentID, courseID); err != nil {
		return nil, err
	}
	return e, nil
}

// ListByStudent returns a student's enrollments.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	return find[models.Enrollment](ctx, r.store, EnrollmentsByStudentQuery(studentID))
}

// ListByCourse returns the enrollments of a course.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	return find[models.Enrollment](ctx, r.store, EnrollmentsByCourseQuery(courseID))
}

// CreateIfAbsent stores e unless the pair is already enrolled. created reports
// whether this call wrote the document.
func (r *EnrollmentRepository) CreateIfAbsent(ctx context.Context, e *models.Enrollment) (*models.Enrollment, bool, error) {
	stored, created, err := createIfAbsent(ctx, r.store, CollectionEnrollments, e.ID(), e)
	if err != nil {
		return nil, false, err
	}
	if err := checkPair(stored, e.StudentID, e.CourseID); err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// Mutate applies fn to the stored enrollment atomically.
func (r *EnrollmentRepository) Mutate(ctx context.Context, studentID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error) {
	return mutate(ctx, r.store, CollectionEnrollments, models.EnrollmentID(studentID, courseID), func(e *models.Enrollment) error {
		if err := checkPair(e, studentID, courseID); err != nil {
			return err
		}
		return fn(e)
	})
}

func checkPair(e *models.Enrollment, studentID, courseID string) error {
	if e.StudentID != studentID || e.CourseID != courseID {
		return fmt.Errorf("%w: key (%s, %s) holds (%s, %s)", ErrPairMismatch, studentID, courseID, e.StudentID, e.CourseID)
	}
	return nil
}
