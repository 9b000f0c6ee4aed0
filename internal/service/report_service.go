package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/export"
	"github.com/noah-isme/course-sync/pkg/storage"
)

type courseEnrollmentLister interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
}

// ReportResult points at an uploaded report.
type ReportResult struct {
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	Rows        int       `json:"rows"`
	GeneratedAt time.Time `json:"generatedAt"`
}

var progressHeaders = []string{"student_id", "student_name", "email", "progress", "completed_lessons", "total_lessons", "enrolled_date", "certificate"}

// ReportService builds course progress rosters.
type ReportService struct {
	courses     courseReader
	enrollments courseEnrollmentLister
	users       userReader
	blobs       storage.BlobStore
	renderers   map[string]export.Renderer
	logger      *zap.Logger
	now         func() time.Time
}

// NewReportService constructs the report service with CSV and PDF renderers.
func NewReportService(courses courseReader, enrollments courseEnrollmentLister, users userReader, blobs storage.BlobStore, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	renderers := map[string]export.Renderer{}
	for _, r := range []export.Renderer{export.NewCSVExporter(), export.NewPDFExporter()} {
		renderers[r.Extension()] = r
	}
	return &ReportService{
		courses:     courses,
		enrollments: enrollments,
		users:       users,
		blobs:       blobs,
		renderers:   renderers,
		logger:      logger.Named("reports"),
		now:         time.Now,
	}
}

// ProgressReport renders every enrollment of a course in format (csv or pdf)
// and uploads it to the blob store.
func (s *ReportService) ProgressReport(ctx context.Context, courseID, format string) (*ReportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report format %q", format))
	}
	if s.blobs == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "media storage not configured")
	}

	dataset, err := s.progressDataset(ctx, courseID)
	if err != nil {
		return nil, err
	}
	content, err := renderer.Render(*dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	generatedAt := s.now().UTC()
	key := path.Join("reports", courseID, fmt.Sprintf("progress-%s.%s", generatedAt.Format("20060102T150405Z"), renderer.Extension()))
	url, err := s.blobs.Upload(ctx, key, bytes.NewReader(content), renderer.ContentType())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to upload report")
	}
	s.logger.Info("progress report generated", zap.String("course_id", courseID), zap.String("format", format), zap.Int("rows", len(dataset.Rows)))
	return &ReportResult{URL: url, Format: format, Rows: len(dataset.Rows), GeneratedAt: generatedAt}, nil
}

func (s *ReportService) progressDataset(ctx context.Context, courseID string) (*export.Dataset, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	enrollments, err := s.enrollments.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "", "failed to list enrollments")
	}

	var mu sync.Mutex
	users := make(map[string]*models.User, len(enrollments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, e := range enrollments {
		studentID := e.StudentID
		g.Go(func() error {
			u, err := s.users.FindByID(gctx, studentID)
			if err != nil {
				if repository.IsNotFound(err) {
					return nil
				}
				return err
			}
			mu.Lock()
			users[studentID] = u
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError(err, "", "failed to load students")
	}

	total := course.TotalLessons()
	rows := make([]map[string]string, 0, len(enrollments))
	for _, e := range enrollments {
		row := map[string]string{
			"student_id":        e.StudentID,
			"progress":          strconv.Itoa(e.Progress),
			"completed_lessons": strconv.Itoa(countCourseLessons(e.CompletedLessons, course)),
			"total_lessons":     strconv.Itoa(total),
			"enrolled_date":     e.EnrolledDate.Format("2006-01-02"),
			"certificate":       e.CertificateURL,
		}
		if u, ok := users[e.StudentID]; ok {
			row["student_name"] = u.Name
			row["email"] = u.Email
		}
		rows = append(rows, row)
	}
	return &export.Dataset{
		Title:   fmt.Sprintf("Progress - %s", course.Title),
		Headers: progressHeaders,
		Rows:    rows,
	}, nil
}

func countCourseLessons(completed []string, course *models.Course) int {
	n := 0
	seen := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if course.HasLesson(id) {
			n++
		}
	}
	return n
}
