package service

import "github.com/noah-isme/course-sync/internal/models"

// CalculateProgress returns the whole percentage of the course's lessons found
// in completed, rounded down. Ids that are not lessons of the course are
// ignored and a course without lessons is 0.
func CalculateProgress(completed []string, course *models.Course) int {
	total := course.TotalLessons()
	if total == 0 {
		return 0
	}
	done := 0
	seen := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if course.HasLesson(id) {
			done++
		}
	}
	return done * 100 / total
}
