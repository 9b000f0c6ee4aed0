// Package seed loads a YAML catalog of courses, users and enrollments into
// the document store. Seeding is idempotent: existing documents are kept.
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
)

// Enrollment seeds an enrollment and the lessons already completed.
type Enrollment struct {
	StudentID        string   `json:"studentId"`
	CourseID         string   `json:"courseId"`
	CompletedLessons []string `json:"completedLessons"`
}

// Catalog is the decoded content of one or more seed files.
type Catalog struct {
	Courses     []models.Course
	Users       []models.User
	Enrollments []Enrollment
}

type rawCatalog struct {
	Courses     []map[string]interface{} `yaml:"courses"`
	Users       []map[string]interface{} `yaml:"users"`
	Enrollments []map[string]interface{} `yaml:"enrollments"`
}

// Parse decodes a YAML catalog. Keys follow the record field names
// (imageUrl, enrolledStudents, correctAnswer, ...).
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	cat := &Catalog{}
	for i, rec := range raw.Courses {
		var c models.Course
		if err := models.Decode(models.Record(rec), &c); err != nil {
			return nil, fmt.Errorf("course %d: %w", i, err)
		}
		cat.Courses = append(cat.Courses, c)
	}
	for i, rec := range raw.Users {
		var u models.User
		if err := models.Decode(models.Record(rec), &u); err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		cat.Users = append(cat.Users, u)
	}
	for i, rec := range raw.Enrollments {
		var e Enrollment
		if err := models.Decode(models.Record(rec), &e); err != nil {
			return nil, fmt.Errorf("enrollment %d: %w", i, err)
		}
		cat.Enrollments = append(cat.Enrollments, e)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// LoadPath reads a catalog file, or every .yaml/.yml file below a directory
// in lexical order.
func LoadPath(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		if strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	sort.Strings(files)

	merged := &Catalog{}
	for _, f := range files {
		cat, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		merged.Courses = append(merged.Courses, cat.Courses...)
		merged.Users = append(merged.Users, cat.Users...)
		merged.Enrollments = append(merged.Enrollments, cat.Enrollments...)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func loadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Validate checks ids are present and unique where the data model requires it.
func (c *Catalog) Validate() error {
	courses := make(map[string]struct{}, len(c.Courses))
	for _, course := range c.Courses {
		if course.ID == "" || course.Title == "" {
			return fmt.Errorf("course requires id and title")
		}
		if _, dup := courses[course.ID]; dup {
			return fmt.Errorf("duplicate course id %s", course.ID)
		}
		courses[course.ID] = struct{}{}
		sections := make(map[string]struct{}, len(course.Sections))
		for _, section := range course.Sections {
			if section.ID == "" {
				return fmt.Errorf("course %s: section without id", course.ID)
			}
			if _, dup := sections[section.ID]; dup {
				return fmt.Errorf("course %s: duplicate section id %s", course.ID, section.ID)
			}
			sections[section.ID] = struct{}{}
			lessons := make(map[string]struct{}, len(section.Lessons))
			for _, lesson := range section.Lessons {
				if lesson.ID == "" {
					return fmt.Errorf("course %s section %s: lesson without id", course.ID, section.ID)
				}
				if _, dup := lessons[lesson.ID]; dup {
					return fmt.Errorf("course %s section %s: duplicate lesson id %s", course.ID, section.ID, lesson.ID)
				}
				lessons[lesson.ID] = struct{}{}
			}
			for _, quiz := range section.Quizzes {
				for _, q := range quiz.Questions {
					if !q.Type.Valid() {
						return fmt.Errorf("course %s quiz %s: unknown question type %q", course.ID, quiz.ID, q.Type)
					}
				}
			}
		}
	}
	for _, u := range c.Users {
		if u.ID == "" || !u.Role.Valid() {
			return fmt.Errorf("user %q requires id and a student or instructor role", u.ID)
		}
	}
	for _, e := range c.Enrollments {
		if e.StudentID == "" || e.CourseID == "" {
			return fmt.Errorf("enrollment requires studentId and courseId")
		}
	}
	return nil
}

type courseCreator interface {
	CreateIfAbsent(ctx context.Context, course *models.Course) (*models.Course, bool, error)
}

type userCreator interface {
	CreateIfAbsent(ctx context.Context, u *models.User) (*models.User, bool, error)
}

type enroller interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (*service.EnrollResult, error)
	RecordLessonCompletion(ctx context.Context, req service.CompleteLessonRequest) (*models.Enrollment, error)
}

// Result counts what Apply created.
type Result struct {
	Courses     int `json:"courses"`
	Users       int `json:"users"`
	Enrollments int `json:"enrollments"`
	Completions int `json:"completions"`
}

// Loader writes catalogs into the store. Enrollments go through the
// enrollment workflow so counters and user links stay consistent.
type Loader struct {
	courses     courseCreator
	users       userCreator
	enrollments enroller
	logger      *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(courses courseCreator, users userCreator, enrollments enroller, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{courses: courses, users: users, enrollments: enrollments, logger: logger.Named("seed")}
}

// Apply stores the catalog. Courses are written before users so that
// enrolledStudents starts from the seeded value and is then incremented by
// new enrollments only.
func (l *Loader) Apply(ctx context.Context, cat *Catalog) (*Result, error) {
	res := &Result{}
	for i := range cat.Courses {
		course := cat.Courses[i]
		if course.Sections == nil {
			course.Sections = []models.Section{}
		}
		_, created, err := l.courses.CreateIfAbsent(ctx, &course)
		if err != nil {
			return res, fmt.Errorf("seed course %s: %w", course.ID, err)
		}
		if created {
			res.Courses++
		}
	}
	for i := range cat.Users {
		user := cat.Users[i]
		if user.EnrolledCourses == nil {
			user.EnrolledCourses = []string{}
		}
		if user.CompletedLessons == nil {
			user.CompletedLessons = []string{}
		}
		_, created, err := l.users.CreateIfAbsent(ctx, &user)
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", user.ID, err)
		}
		if created {
			res.Users++
		}
	}
	for _, e := range cat.Enrollments {
		enrolled, err := l.enrollments.Enroll(ctx, service.EnrollRequest{StudentID: e.StudentID, CourseID: e.CourseID})
		if err != nil {
			return res, fmt.Errorf("seed enrollment %s/%s: %w", e.StudentID, e.CourseID, err)
		}
		if enrolled.Created {
			res.Enrollments++
		}
		for _, lessonID := range e.CompletedLessons {
			if enrolled.Enrollment.HasCompleted(lessonID) {
				continue
			}
			if _, err := l.enrollments.RecordLessonCompletion(ctx, service.CompleteLessonRequest{StudentID: e.StudentID, CourseID: e.CourseID, LessonID: lessonID}); err != nil {
				return res, fmt.Errorf("seed completion %s/%s/%s: %w", e.StudentID, e.CourseID, lessonID, err)
			}
			res.Completions++
		}
	}
	l.logger.Info("catalog seeded",
		zap.Int("courses", res.Courses),
		zap.Int("users", res.Users),
		zap.Int("enrollments", res.Enrollments),
		zap.Int("completions", res.Completions),
	)
	return res, nil
}
