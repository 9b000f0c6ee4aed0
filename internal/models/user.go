package models

// UserRole distinguishes learners from content authors.
type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleInstructor UserRole = "instructor"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == RoleStudent || r == RoleInstructor
}

// User is a profile record. EnrolledCourses mirrors the set of Enrollment
// records for the user; CompletedLessons is a legacy view kept for old clients.
type User struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Role             UserRole `json:"role"`
	ProfileImage     string   `json:"profileImage"`
	EnrolledCourses  []string `json:"enrolledCourses"`
	CompletedLessons []string `json:"completedLessons"`
}

// IsEnrolled reports whether courseID is in the user's enrolled set.
func (u *User) IsEnrolled(courseID string) bool {
	for _, id := range u.EnrolledCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

// AddEnrolledCourse adds courseID and reports whether the set changed.
func (u *User) AddEnrolledCourse(courseID string) bool {
	if u.IsEnrolled(courseID) {
		return false
	}
	u.EnrolledCourses = append(u.EnrolledCourses, courseID)
	return true
}
