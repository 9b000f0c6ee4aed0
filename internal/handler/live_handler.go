package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/response"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type liveSource interface {
	AllCourses(ctx context.Context) (*service.Subscription[[]models.Course], error)
	CoursesByInstructor(ctx context.Context, instructor string) (*service.Subscription[[]models.Course], error)
	CoursesByCategory(ctx context.Context, category string) (*service.Subscription[[]models.Course], error)
	Course(ctx context.Context, id string) (*service.Subscription[*models.Course], error)
	EnrollmentsByStudent(ctx context.Context, studentID string) (*service.Subscription[[]models.Enrollment], error)
	EnrollmentsByCourse(ctx context.Context, courseID string) (*service.Subscription[[]models.Enrollment], error)
	Enrollment(ctx context.Context, studentID, courseID string) (*service.Subscription[*models.Enrollment], error)
	User(ctx context.Context, id string) (*service.Subscription[*models.User], error)
	EnrolledCourses(ctx context.Context, studentID string) (*service.Subscription[[]models.Course], error)
}

// LiveMessage is one frame sent to a live query client. Seq starts at 1 and
// increases by one per snapshot; an "error" frame is always the last.
type LiveMessage struct {
	Type  string           `json:"type"`
	Query string           `json:"query"`
	Seq   int              `json:"seq,omitempty"`
	Data  interface{}      `json:"data,omitempty"`
	Error *appErrors.Error `json:"error,omitempty"`
}

type liveStream func(ctx context.Context, emit func(value interface{}, err error) error) error

// LiveHandler streams subscription snapshots over WebSocket.
type LiveHandler struct {
	source liveSource
	logger *zap.Logger
}

// NewLiveHandler constructs LiveHandler.
func NewLiveHandler(source liveSource, logger *zap.Logger) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{source: source, logger: logger.Named("live")}
}

// Stream godoc
// @Summary Live query over WebSocket
// @Description Emits the current result and then one frame per change.
// @Tags Live
// @Param query query string true "all-courses, courses-by-instructor, courses-by-category, course, enrollments-by-student, enrollments-by-course, enrollment, user or enrolled-courses"
// @Param id query string false "Course or user id"
// @Param instructor query string false "Instructor id"
// @Param category query string false "Category"
// @Param studentId query string false "Student id"
// @Param courseId query string false "Course id"
// @Success 101 {string} string "Switching Protocols"
// @Router /live [get]
func (h *LiveHandler) Stream(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	kind := c.Query("query")
	open, err := h.resolve(c, claims, kind)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client never sends data; reading only detects disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.logger.With(zap.String("query", kind), zap.String("user_id", claims.UserID))
	log.Debug("live query connected")

	seq := 0
	emit := func(value interface{}, err error) error {
		msg := LiveMessage{Type: "snapshot", Query: kind}
		if err != nil {
			msg.Type = "error"
			msg.Error = appErrors.FromError(err)
		} else {
			seq++
			msg.Seq = seq
			msg.Data = value
		}
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteJSON(msg)
	}

	if err := open(ctx, emit); err != nil {
		if ctx.Err() == nil {
			_ = emit(nil, err)
		}
		log.Debug("live query ended", zap.Error(err))
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	log.Debug("live query disconnected", zap.Int("snapshots", seq))
}

func (h *LiveHandler) resolve(c *gin.Context, claims *models.JWTClaims, kind string) (liveStream, error) {
	param := func(name string) (string, error) {
		v := c.Query(name)
		if v == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, name+" is required for "+kind)
		}
		return v, nil
	}
	self := func(id string) error {
		if id == claims.UserID || claims.Role == models.RoleInstructor {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "cannot observe another user's data")
	}

	switch kind {
	case service.KindAllCourses:
		return pump(h.source.AllCourses), nil
	case service.KindCoursesByInstructor:
		instructor, err := param("instructor")
		if err != nil {
			return nil, err
		}
		return pump(func(ctx context.Context) (*service.Subscription[[]models.Course], error) {
			return h.source.CoursesByInstructor(ctx, instructor)
		}), nil
	case service.KindCoursesByCategory:
		category, err := param("category")
		if err != nil {
			return nil, err
		}
		return pump(func(ctx context.Context) (*service.Subscription[[]models.Course], error) {
			return h.source.CoursesByCategory(ctx, category)
		}), nil
	case service.KindCourse:
		id, err := param("id")
		if err != nil {
			return nil, err
		}
		return pump(func(ctx context.Context) (*service.Subscription[*models.Course], error) {
			return h.source.Course(ctx, id)
		}), nil
	case service.KindEnrollmentsByStudent, service.KindEnrolledCourses:
		studentID, err := param("studentId")
		if err != nil {
			return nil, err
		}
		if err := self(studentID); err != nil {
			return nil, err
		}
		if kind == service.KindEnrolledCourses {
			return pump(func(ctx context.Context) (*service.Subscription[[]models.Course], error) {
				return h.source.EnrolledCourses(ctx, studentID)
			}), nil
		}
		return pump(func(ctx context.Context) (*service.Subscription[[]models.Enrollment], error) {
			return h.source.EnrollmentsByStudent(ctx, studentID)
		}), nil
	case service.KindEnrollmentsByCourse:
		courseID, err := param("courseId")
		if err != nil {
			return nil, err
		}
		if claims.Role != models.RoleInstructor {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "course rosters are limited to instructors")
		}
		return pump(func(ctx context.Context) (*service.Subscription[[]models.Enrollment], error) {
			return h.source.EnrollmentsByCourse(ctx, courseID)
		}), nil
	case service.KindEnrollment:
		studentID, err := param("studentId")
		if err != nil {
			return nil, err
		}
		courseID, err := param("courseId")
		if err != nil {
			return nil, err
		}
		if err := self(studentID); err != nil {
			return nil, err
		}
		return pump(func(ctx context.Context) (*service.Subscription[*models.Enrollment], error) {
			return h.source.Enrollment(ctx, studentID, courseID)
		}), nil
	case service.KindUser:
		id, err := param("id")
		if err != nil {
			return nil, err
		}
		if err := self(id); err != nil {
			return nil, err
		}
		return pump(func(ctx context.Context) (*service.Subscription[*models.User], error) {
			return h.source.User(ctx, id)
		}), nil
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "unknown query kind")
}

// pump forwards every Result of a subscription to emit until the
// subscription ends, ctx is cancelled or emit fails.
func pump[T any](open func(context.Context) (*service.Subscription[T], error)) liveStream {
	return func(ctx context.Context, emit func(interface{}, error) error) error {
		sub, err := open(ctx)
		if err != nil {
			return err
		}
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case res, ok := <-sub.C:
				if !ok {
					return nil
				}
				if res.Err != nil {
					return res.Err
				}
				if err := emit(res.Value, nil); err != nil {
					return nil
				}
			}
		}
	}
}
