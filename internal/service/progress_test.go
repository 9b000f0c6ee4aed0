package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/course-sync/internal/models"
)

func TestCalculateProgress(t *testing.T) {
	course := sampleCourse()

	tests := []struct {
		name      string
		completed []string
		want      int
	}{
		{name: "none", completed: nil, want: 0},
		{name: "two of three rounds down", completed: []string{"L1", "L3"}, want: 66},
		{name: "one of three", completed: []string{"L2"}, want: 33},
		{name: "all", completed: []string{"L1", "L2", "L3"}, want: 100},
		{name: "duplicates count once", completed: []string{"L1", "L1", "L1"}, want: 33},
		{name: "foreign ids ignored", completed: []string{"L1", "X9", "other-course-lesson"}, want: 33},
		{name: "only foreign ids", completed: []string{"X1", "X2", "X3", "X4"}, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CalculateProgress(tc.completed, course))
		})
	}
}

func TestCalculateProgressWithoutLessons(t *testing.T) {
	empty := &models.Course{ID: "c0", Sections: []models.Section{{ID: "s1"}}}
	assert.Equal(t, 0, CalculateProgress([]string{"L1", "L2"}, empty))
	assert.Equal(t, 0, CalculateProgress(nil, &models.Course{ID: "c0"}))
}

func TestCalculateProgressStaysInRange(t *testing.T) {
	course := sampleCourse()
	ids := append(course.LessonIDs(), "ghost", "L1")
	for i := 0; i <= len(ids); i++ {
		got := CalculateProgress(ids[:i], course)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 100)
	}
}
