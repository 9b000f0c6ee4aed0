package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var attemptNamespace = uuid.MustParse("5c0e6a1e-8f3b-4d0a-9a51-2f6a4c1d7e90")

// AttemptStatus is the lifecycle state of a quiz attempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
)

// QuizAttempt records one student's pass through a quiz.
type QuizAttempt struct {
	ID            string            `json:"id"`
	StudentID     string            `json:"studentId"`
	CourseID      string            `json:"courseId"`
	SectionID     string            `json:"sectionId"`
	QuizID        string            `json:"quizId"`
	Number        int               `json:"number"`
	Status        AttemptStatus     `json:"status"`
	Answers       map[string]string `json:"answers"`
	StartedAt     time.Time         `json:"startedAt"`
	Deadline      time.Time         `json:"deadline"`
	SubmittedAt   time.Time         `json:"submittedAt"`
	Score         int               `json:"score"`
	Passed        bool              `json:"passed"`
	EarnedPoints  int               `json:"earnedPoints"`
	TotalPoints   int               `json:"totalPoints"`
	AutoSubmitted bool              `json:"autoSubmitted"`
}

// AttemptID derives the key of a student's nth attempt at a quiz. Concurrent
// starts for the same slot therefore race on one document.
func AttemptID(studentID, quizID string, number int) string {
	key := fmt.Sprintf("%d:%s\x00%d:%s\x00%d", len(studentID), studentID, len(quizID), quizID, number)
	return uuid.NewSHA1(attemptNamespace, []byte(key)).String()
}

// HasDeadline reports whether a countdown applies to the attempt.
func (a *QuizAttempt) HasDeadline() bool {
	return !a.Deadline.IsZero()
}
