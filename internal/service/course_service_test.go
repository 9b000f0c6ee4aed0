package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

func newCourseService(f *fixture, blobs *fakeBlobStore) *CourseService {
	svc := NewCourseService(f.courses, nil, nil, zap.NewNop())
	if blobs != nil {
		svc = NewCourseService(f.courses, blobs, nil, zap.NewNop())
	}
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestCourseServiceAddLessonAppends(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, sampleCourse())
	svc := newCourseService(f, nil)
	ctx := context.Background()

	res, err := svc.AddLesson(ctx, "c1", "s1", AddLessonRequest{Title: "Modules", Duration: "10m"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.ID)

	stored, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, res.Course, stored)

	want := sampleCourse()
	require.Len(t, stored.Sections, 2)
	lessons := stored.Sections[0].Lessons
	require.Len(t, lessons, 3)
	assert.Equal(t, want.Sections[0].Lessons, lessons[:2])
	assert.Equal(t, "id-1", lessons[2].ID)
	assert.Equal(t, "Modules", lessons[2].Title)
	assert.Equal(t, want.Sections[1], stored.Sections[1])
	assert.Equal(t, want.Sections[0].Quizzes, stored.Sections[0].Quizzes)
}

func TestCourseServiceAddLessonUnknownSection(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, sampleCourse())
	svc := newCourseService(f, nil)
	ctx := context.Background()

	_, err := svc.AddLesson(ctx, "c1", "s9", AddLessonRequest{Title: "Lost"})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	stored, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TotalLessons())
}

func TestCourseServiceMissingCourse(t *testing.T) {
	f := newFixture(t)
	svc := newCourseService(f, nil)
	ctx := context.Background()

	_, err := svc.AddSection(ctx, "missing", AddSectionRequest{Title: "Nope"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	_, err = svc.Get(ctx, "missing")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	_, err = svc.AddSection(ctx, "missing", AddSectionRequest{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestCourseServiceCreateAndList(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, sampleCourse())
	svc := newCourseService(f, nil)
	ctx := context.Background()

	created, err := svc.CreateCourse(ctx, CreateCourseRequest{Title: " Advanced Go ", Instructor: "i2", Category: "programming", Price: 10})
	require.NoError(t, err)
	assert.Equal(t, "id-1", created.ID)
	assert.Equal(t, "Advanced Go", created.Title)
	assert.Empty(t, created.Sections)

	all, err := svc.List(ctx, CourseFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Advanced Go", all[0].Title)

	mine, err := svc.List(ctx, CourseFilter{Instructor: "i2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "id-1", mine[0].ID)

	_, err = svc.CreateCourse(ctx, CreateCourseRequest{Title: "No instructor"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestCourseServiceSectionsAndQuizzes(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, sampleCourse())
	svc := newCourseService(f, nil)
	ctx := context.Background()

	section, err := svc.AddSection(ctx, "c1", AddSectionRequest{Title: "Concurrency"})
	require.NoError(t, err)
	require.Len(t, section.Course.Sections, 3)
	assert.Equal(t, "Concurrency", section.Course.Sections[2].Title)
	assert.Empty(t, section.Course.Sections[2].Lessons)

	quiz, err := svc.AddQuiz(ctx, "c1", section.ID, AddQuizRequest{Title: "Channels", PassingScore: 50, TimeLimit: 10, AttemptsAllowed: 3})
	require.NoError(t, err)
	q, ok := quiz.Course.FindQuiz(section.ID, quiz.ID)
	require.True(t, ok)
	assert.Equal(t, 50, q.PassingScore)
	assert.Empty(t, q.Questions)

	_, err = svc.AddQuestion(ctx, "c1", section.ID, quiz.ID, AddQuestionRequest{Text: "Pick", Type: "multiple-choice", Options: []string{"a", "b"}, CorrectAnswer: "c", Points: 5})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = svc.AddQuestion(ctx, "c1", section.ID, quiz.ID, AddQuestionRequest{Text: "Sure?", Type: "true-false", CorrectAnswer: "yes", Points: 5})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	added, err := svc.AddQuestion(ctx, "c1", section.ID, quiz.ID, AddQuestionRequest{Text: "Pick", Type: "multiple-choice", Options: []string{"a", "b"}, CorrectAnswer: "b", Points: 5})
	require.NoError(t, err)
	q, ok = added.Course.FindQuiz(section.ID, quiz.ID)
	require.True(t, ok)
	require.Len(t, q.Questions, 1)
	assert.Equal(t, added.ID, q.Questions[0].ID)
	assert.Equal(t, []string{"a", "b"}, q.Questions[0].Options)

	_, err = svc.AddQuestion(ctx, "c1", "s1", quiz.ID, AddQuestionRequest{Text: "Where", Type: "short-answer", CorrectAnswer: "x", Points: 1})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestCourseServiceUpdateAndDeleteLesson(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, sampleCourse())
	svc := newCourseService(f, nil)
	ctx := context.Background()

	title := "Hello, World"
	video := "https://videos.example.com/hello.mp4"
	updated, err := svc.UpdateLesson(ctx, "c1", "s1", "L2", UpdateLessonRequest{Title: &title, VideoURL: &video})
	require.NoError(t, err)
	lesson := updated.Sections[0].Lessons[1]
	assert.Equal(t, "L2", lesson.ID)
	assert.Equal(t, title, lesson.Title)
	assert.Equal(t, video, lesson.VideoURL)

	_, err = svc.UpdateLesson(ctx, "c1", "s2", "L2", UpdateLessonRequest{Title: &title})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	deleted, err := svc.DeleteLesson(ctx, "c1", "s1", "L1")
	require.NoError(t, err)
	require.Len(t, deleted.Sections[0].Lessons, 1)
	assert.Equal(t, "L2", deleted.Sections[0].Lessons[0].ID)
	assert.Equal(t, 2, deleted.TotalLessons())

	_, err = svc.DeleteLesson(ctx, "c1", "s1", "L1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestCourseServiceSetLessonMedia(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, sampleCourse())
	blobs := &fakeBlobStore{}
	svc := newCourseService(f, blobs)
	ctx := context.Background()

	course, err := svc.SetLessonMedia(ctx, "c1", "s2", "L3", MediaPDF, "notes.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/courses/c1/lessons/L3/pdf.pdf", course.Sections[1].Lessons[0].PDFURL)

	uploads := blobs.all()
	require.Len(t, uploads, 1)
	assert.Equal(t, "application/pdf", uploads[0].contentType)

	_, err = svc.SetLessonMedia(ctx, "c1", "s2", "L9", MediaVideo, "clip.mp4", strings.NewReader(""))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
	assert.Len(t, blobs.all(), 1)

	_, err = newCourseService(f, nil).SetLessonMedia(ctx, "c1", "s2", "L3", MediaPDF, "notes.pdf", strings.NewReader(""))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
}
