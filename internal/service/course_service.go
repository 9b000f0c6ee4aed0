package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/store"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/storage"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Find(ctx context.Context, q store.Query) ([]models.Course, error)
	Save(ctx context.Context, course *models.Course) error
	Mutate(ctx context.Context, id string, fn func(*models.Course) error) (*models.Course, error)
}

// CreateCourseRequest describes a new catalog entry.
type CreateCourseRequest struct {
	Title       string  `json:"title" validate:"required"`
	Description string  `json:"description"`
	ImageURL    string  `json:"imageUrl" validate:"omitempty,url"`
	Instructor  string  `json:"instructor" validate:"required"`
	Rating      float64 `json:"rating" validate:"gte=0,lte=5"`
	Duration    string  `json:"duration"`
	Category    string  `json:"category"`
	Price       float64 `json:"price" validate:"gte=0"`
}

// AddSectionRequest names a new section.
type AddSectionRequest struct {
	Title string `json:"title" validate:"required"`
}

// AddLessonRequest describes a lesson appended to a section.
type AddLessonRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	VideoURL    string `json:"videoUrl" validate:"omitempty,url"`
	Duration    string `json:"duration"`
}

// AddQuizRequest describes a quiz appended to a section.
type AddQuizRequest struct {
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description"`
	PassingScore    int    `json:"passingScore" validate:"gte=0,lte=100"`
	TimeLimit       int    `json:"timeLimit" validate:"gte=0"`
	AttemptsAllowed int    `json:"attemptsAllowed" validate:"gte=0"`
}

// AddQuestionRequest describes a question appended to a quiz.
type AddQuestionRequest struct {
	Text          string   `json:"text" validate:"required"`
	Type          string   `json:"type" validate:"required,oneof=multiple-choice true-false short-answer"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer" validate:"required"`
	Points        int      `json:"points" validate:"gt=0"`
}

// UpdateLessonRequest patches the editable fields of a lesson. Nil fields are kept.
type UpdateLessonRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1"`
	Description *string `json:"description"`
	Duration    *string `json:"duration"`
	VideoURL    *string `json:"videoUrl" validate:"omitempty,url"`
	ImageURL    *string `json:"imageUrl" validate:"omitempty,url"`
	PDFURL      *string `json:"pdfUrl" validate:"omitempty,url"`
}

// CourseFilter narrows List.
type CourseFilter struct {
	Instructor string `form:"instructor"`
	Category   string `form:"category"`
}

// MediaKind selects which lesson URL an upload replaces.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
	MediaPDF   MediaKind = "pdf"
)

// MutationResult carries the id generated for the new element together with
// the course as written, so callers never need to re-read it.
type MutationResult struct {
	ID     string         `json:"id"`
	Course *models.Course `json:"course"`
}

// CourseService applies structural edits to courses.
type CourseService struct {
	repo      courseRepository
	blobs     storage.BlobStore
	validator *validator.Validate
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// NewCourseService constructs CourseService. blobs may be nil when media uploads are disabled.
func NewCourseService(repo courseRepository, blobs storage.BlobStore, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{
		repo:      repo,
		blobs:     blobs,
		validator: validate,
		logger:    logger.Named("courses"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	return course, nil
}

// List returns the catalog, optionally filtered by instructor or category.
func (s *CourseService) List(ctx context.Context, filter CourseFilter) ([]models.Course, error) {
	q := courseListQuery(filter)
	courses, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, storeError(err, "", "failed to list courses")
	}
	return courses, nil
}

// CreateCourse stores a new course with no sections.
func (s *CourseService) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course := &models.Course{
		ID:          s.newID(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Instructor:  req.Instructor,
		Rating:      req.Rating,
		Duration:    req.Duration,
		Category:    req.Category,
		Price:       req.Price,
		Sections:    []models.Section{},
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Save(ctx, course); err != nil {
		return nil, storeError(err, "", "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID))
	return course, nil
}

// AddSection appends an empty section.
func (s *CourseService) AddSection(ctx context.Context, courseID string, req AddSectionRequest) (*MutationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid section payload")
	}
	section := models.Section{ID: s.newID(), Title: req.Title, Lessons: []models.Lesson{}, Quizzes: []models.Quiz{}}
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		c.Sections = append(c.Sections, section)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to add section")
	}
	return &MutationResult{ID: section.ID, Course: course}, nil
}

// AddLesson appends a lesson to sectionID.
func (s *CourseService) AddLesson(ctx context.Context, courseID, sectionID string, req AddLessonRequest) (*MutationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lesson payload")
	}
	lesson := models.Lesson{
		ID:          s.newID(),
		Title:       req.Title,
		Description: req.Description,
		VideoURL:    req.VideoURL,
		Duration:    req.Duration,
	}
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		si, ok := c.FindSection(sectionID)
		if !ok {
			return sectionNotFound(sectionID)
		}
		c.Sections[si].Lessons = append(c.Sections[si].Lessons, lesson)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to add lesson")
	}
	return &MutationResult{ID: lesson.ID, Course: course}, nil
}

// AddQuiz appends a quiz without questions to sectionID.
func (s *CourseService) AddQuiz(ctx context.Context, courseID, sectionID string, req AddQuizRequest) (*MutationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid quiz payload")
	}
	quiz := models.Quiz{
		ID:              s.newID(),
		Title:           req.Title,
		Description:     req.Description,
		PassingScore:    req.PassingScore,
		TimeLimit:       req.TimeLimit,
		AttemptsAllowed: req.AttemptsAllowed,
		Questions:       []models.Question{},
	}
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		si, ok := c.FindSection(sectionID)
		if !ok {
			return sectionNotFound(sectionID)
		}
		c.Sections[si].Quizzes = append(c.Sections[si].Quizzes, quiz)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to add quiz")
	}
	return &MutationResult{ID: quiz.ID, Course: course}, nil
}

// AddQuestion appends a question to a quiz.
func (s *CourseService) AddQuestion(ctx context.Context, courseID, sectionID, quizID string, req AddQuestionRequest) (*MutationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid question payload")
	}
	question := models.Question{
		ID:            s.newID(),
		Text:          req.Text,
		Type:          models.QuestionType(req.Type),
		CorrectAnswer: req.CorrectAnswer,
		Points:        req.Points,
	}
	if err := checkQuestionShape(&question, req.Options); err != nil {
		return nil, err
	}
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		quiz, ok := c.FindQuiz(sectionID, quizID)
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("quiz %s not found in section %s", quizID, sectionID))
		}
		quiz.Questions = append(quiz.Questions, question)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to add question")
	}
	return &MutationResult{ID: question.ID, Course: course}, nil
}

// UpdateLesson patches a lesson in place, keeping its id and position.
func (s *CourseService) UpdateLesson(ctx context.Context, courseID, sectionID, lessonID string, req UpdateLessonRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lesson payload")
	}
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		lesson, err := findSectionLesson(c, sectionID, lessonID)
		if err != nil {
			return err
		}
		applyLessonPatch(lesson, req)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to update lesson")
	}
	return course, nil
}

// DeleteLesson removes a lesson from its section.
func (s *CourseService) DeleteLesson(ctx context.Context, courseID, sectionID, lessonID string) (*models.Course, error) {
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		si, ok := c.FindSection(sectionID)
		if !ok {
			return sectionNotFound(sectionID)
		}
		lessons := c.Sections[si].Lessons
		for i := range lessons {
			if lessons[i].ID == lessonID {
				c.Sections[si].Lessons = append(lessons[:i:i], lessons[i+1:]...)
				return nil
			}
		}
		return lessonNotFound(lessonID)
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to delete lesson")
	}
	return course, nil
}

// SetLessonMedia uploads media for a lesson and stores the returned URL.
func (s *CourseService) SetLessonMedia(ctx context.Context, courseID, sectionID, lessonID string, kind MediaKind, filename string, r io.Reader) (*models.Course, error) {
	if s.blobs == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "media storage not configured")
	}
	if kind != MediaVideo && kind != MediaImage && kind != MediaPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported media kind %q", kind))
	}
	current, err := s.repo.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	if _, err := findSectionLesson(current, sectionID, lessonID); err != nil {
		return nil, err
	}

	key := path.Join("courses", courseID, "lessons", lessonID, string(kind)+path.Ext(filename))
	url, err := s.blobs.Upload(ctx, key, r, storage.ContentTypeForKey(key))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to upload media")
	}

	var patch UpdateLessonRequest
	switch kind {
	case MediaVideo:
		patch.VideoURL = &url
	case MediaImage:
		patch.ImageURL = &url
	case MediaPDF:
		patch.PDFURL = &url
	}
	course, err := s.repo.Mutate(ctx, courseID, func(c *models.Course) error {
		lesson, err := findSectionLesson(c, sectionID, lessonID)
		if err != nil {
			return err
		}
		applyLessonPatch(lesson, patch)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "course not found", "failed to store media url")
	}
	s.logger.Info("lesson media stored", zap.String("course_id", courseID), zap.String("lesson_id", lessonID), zap.String("kind", string(kind)))
	return course, nil
}

func courseListQuery(filter CourseFilter) store.Query {
	q := repository.AllCoursesQuery()
	if filter.Instructor != "" {
		q = q.Where("instructor", store.OpEqual, filter.Instructor)
	}
	if filter.Category != "" {
		q = q.Where("category", store.OpEqual, filter.Category)
	}
	return q
}

func findSectionLesson(c *models.Course, sectionID, lessonID string) (*models.Lesson, error) {
	si, ok := c.FindSection(sectionID)
	if !ok {
		return nil, sectionNotFound(sectionID)
	}
	for i := range c.Sections[si].Lessons {
		if c.Sections[si].Lessons[i].ID == lessonID {
			return &c.Sections[si].Lessons[i], nil
		}
	}
	return nil, lessonNotFound(lessonID)
}

func applyLessonPatch(lesson *models.Lesson, req UpdateLessonRequest) {
	if req.Title != nil {
		lesson.Title = *req.Title
	}
	if req.Description != nil {
		lesson.Description = *req.Description
	}
	if req.Duration != nil {
		lesson.Duration = *req.Duration
	}
	if req.VideoURL != nil {
		lesson.VideoURL = *req.VideoURL
	}
	if req.ImageURL != nil {
		lesson.ImageURL = *req.ImageURL
	}
	if req.PDFURL != nil {
		lesson.PDFURL = *req.PDFURL
	}
}

func checkQuestionShape(q *models.Question, options []string) error {
	switch q.Type {
	case models.QuestionMultipleChoice:
		if len(options) < 2 {
			return appErrors.Clone(appErrors.ErrValidation, "multiple-choice questions need at least two options")
		}
		for _, opt := range options {
			if opt == q.CorrectAnswer {
				q.Options = append([]string(nil), options...)
				return nil
			}
		}
		return appErrors.Clone(appErrors.ErrValidation, "correct answer must be one of the options")
	case models.QuestionTrueFalse:
		if q.CorrectAnswer != "true" && q.CorrectAnswer != "false" {
			return appErrors.Clone(appErrors.ErrValidation, "true-false answer must be \"true\" or \"false\"")
		}
	}
	q.Options = []string{}
	return nil
}

func sectionNotFound(id string) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("section %s not found in course", id))
}

func lessonNotFound(id string) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lesson %s not found in course", id))
}
