package service

import (
	"fmt"

	"github.com/noah-isme/course-sync/internal/models"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

// QuizResult is the graded outcome of a submission.
type QuizResult struct {
	Score        int             `json:"score"`
	Passed       bool            `json:"passed"`
	EarnedPoints int             `json:"earnedPoints"`
	TotalPoints  int             `json:"totalPoints"`
	Correct      map[string]bool `json:"correct"`
}

// ScoreQuiz grades a complete submission. Every question must have an answer;
// otherwise ErrIncompleteSubmission is returned and nothing is graded.
func ScoreQuiz(quiz *models.Quiz, answers map[string]string) (*QuizResult, error) {
	if quiz == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "quiz is required")
	}
	missing := 0
	for _, q := range quiz.Questions {
		if _, ok := answers[q.ID]; !ok {
			missing++
		}
	}
	if missing > 0 {
		return nil, appErrors.Clone(appErrors.ErrIncompleteSubmission, fmt.Sprintf("%d of %d questions unanswered", missing, len(quiz.Questions)))
	}
	return scoreAnswers(quiz, answers), nil
}

// ScoreQuizPartial grades whatever answers exist; unanswered questions earn
// nothing. It is used when an attempt times out.
func ScoreQuizPartial(quiz *models.Quiz, answers map[string]string) *QuizResult {
	if quiz == nil {
		return &QuizResult{Correct: map[string]bool{}}
	}
	return scoreAnswers(quiz, answers)
}

func scoreAnswers(quiz *models.Quiz, answers map[string]string) *QuizResult {
	result := &QuizResult{Correct: make(map[string]bool, len(quiz.Questions))}
	for _, q := range quiz.Questions {
		result.TotalPoints += q.Points
		answer, ok := answers[q.ID]
		correct := ok && answer == q.CorrectAnswer
		result.Correct[q.ID] = correct
		if correct {
			result.EarnedPoints += q.Points
		}
	}
	if result.TotalPoints > 0 {
		result.Score = result.EarnedPoints * 100 / result.TotalPoints
	}
	result.Passed = result.Score >= quiz.PassingScore
	return result
}
