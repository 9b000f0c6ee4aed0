package models

import (
	"net/url"
	"sort"
	"time"
)

// Enrollment ties a student to a course. Progress is derived from
// CompletedLessons and is never set independently.
type Enrollment struct {
	StudentID        string    `json:"studentId"`
	CourseID         string    `json:"courseId"`
	Progress         int       `json:"progress"`
	EnrolledDate     time.Time `json:"enrolledDate"`
	CompletedLessons []string  `json:"completedLessons"`
	CertificateURL   string    `json:"certificateUrl"`
}

// EnrollmentID is the document key for a (student, course) pair. Both parts
// are path-escaped so distinct pairs never share a key.
func EnrollmentID(studentID, courseID string) string {
	return url.PathEscape(studentID) + "/" + url.PathEscape(courseID)
}

// ID returns the document key of the enrollment.
func (e *Enrollment) ID() string {
	return EnrollmentID(e.StudentID, e.CourseID)
}

// HasCompleted reports whether lessonID is in the completed set.
func (e *Enrollment) HasCompleted(lessonID string) bool {
	for _, id := range e.CompletedLessons {
		if id == lessonID {
			return true
		}
	}
	return false
}

// MarkCompleted adds lessonID to the completed set and reports whether it was new.
func (e *Enrollment) MarkCompleted(lessonID string) bool {
	if e.HasCompleted(lessonID) {
		return false
	}
	e.CompletedLessons = append(e.CompletedLessons, lessonID)
	return true
}

// CompletedSet returns the completed lessons as a set.
func (e *Enrollment) CompletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(e.CompletedLessons))
	for _, id := range e.CompletedLessons {
		set[id] = struct{}{}
	}
	return set
}

// SortEnrollments orders enrollments by enrollment date then course id.
func SortEnrollments(list []Enrollment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].EnrolledDate.Equal(list[j].EnrolledDate) {
			return list[i].EnrolledDate.Before(list[j].EnrolledDate)
		}
		return list[i].CourseID < list[j].CourseID
	})
}
