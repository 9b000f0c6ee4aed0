package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/export"
	"github.com/noah-isme/course-sync/pkg/jobs"
	"github.com/noah-isme/course-sync/pkg/storage"
)

// JobTypeCertificate tags certificate issuance jobs.
const JobTypeCertificate = "certificate"

type certificateEnrollments interface {
	Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Mutate(ctx context.Context, studentID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// CertificatePayload is the job payload for certificate issuance.
type CertificatePayload struct {
	StudentID string
	CourseID  string
}

// CertificateService renders completion certificates, uploads them and
// records the URL on the enrollment.
type CertificateService struct {
	enrollments certificateEnrollments
	courses     courseReader
	users       userReader
	renderer    *export.CertificateRenderer
	blobs       storage.BlobStore
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time

	queue jobEnqueuer
}

// NewCertificateService constructs CertificateService.
func NewCertificateService(enrollments certificateEnrollments, courses courseReader, users userReader, renderer *export.CertificateRenderer, blobs storage.BlobStore, metrics *MetricsService, logger *zap.Logger) *CertificateService {
	if renderer == nil {
		renderer = export.NewCertificateRenderer("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateService{
		enrollments: enrollments,
		courses:     courses,
		users:       users,
		renderer:    renderer,
		blobs:       blobs,
		metrics:     metrics,
		logger:      logger.Named("certificates"),
		now:         time.Now,
	}
}

// UseQueue routes RequestCertificate through q instead of issuing inline.
func (s *CertificateService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// RequestCertificate schedules issuance for a completed enrollment. A request
// for a certificate already pending is ignored.
func (s *CertificateService) RequestCertificate(studentID, courseID string) error {
	if s.queue == nil {
		_, err := s.Issue(context.Background(), studentID, courseID)
		return err
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      JobTypeCertificate + ":" + models.EnrollmentID(studentID, courseID),
		Type:    JobTypeCertificate,
		Payload: CertificatePayload{StudentID: studentID, CourseID: courseID},
	})
	if errors.Is(err, jobs.ErrDuplicate) {
		return nil
	}
	return err
}

// Handle is the jobs.Handler for certificate jobs.
func (s *CertificateService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(CertificatePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	_, err := s.Issue(ctx, payload.StudentID, payload.CourseID)
	if appErrors.IsCode(err, appErrors.ErrValidation.Code) {
		s.logger.Warn("certificate not issued", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return err
}

// Issue renders and uploads the certificate if the enrollment is complete and
// has none yet.
func (s *CertificateService) Issue(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	if s.blobs == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "media storage not configured")
	}
	enrollment, err := s.enrollments.Find(ctx, studentID, courseID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	if enrollment.CertificateURL != "" {
		return enrollment, nil
	}
	if enrollment.Progress < 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course %d%% complete", enrollment.Progress))
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	studentName := studentID
	if user, err := s.users.FindByID(ctx, studentID); err == nil && user.Name != "" {
		studentName = user.Name
	} else if err != nil && !repository.IsNotFound(err) {
		return nil, storeError(err, "", "failed to load user")
	}

	id := enrollment.ID()
	pdf, err := s.renderer.Render(export.Certificate{
		StudentName: studentName,
		CourseTitle: course.Title,
		Instructor:  course.Instructor,
		CompletedAt: s.now().UTC(),
		Serial:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	key := path.Join("certificates", url.PathEscape(courseID), url.PathEscape(studentID)+".pdf")
	certURL, err := s.blobs.Upload(ctx, key, bytes.NewReader(pdf), "application/pdf")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to upload certificate")
	}

	updated, err := s.enrollments.Mutate(ctx, studentID, courseID, func(e *models.Enrollment) error {
		e.CertificateURL = certURL
		return nil
	})
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to store certificate url")
	}
	s.metrics.CertificateIssued()
	s.logger.Info("certificate issued", zap.String("student_id", studentID), zap.String("course_id", courseID))
	return updated, nil
}
