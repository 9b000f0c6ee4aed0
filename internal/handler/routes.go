package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/middleware"
	"github.com/noah-isme/course-sync/internal/models"
)

// Handlers groups the API handlers mounted by RegisterRoutes. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Courses     *CourseHandler
	Enrollments *EnrollmentHandler
	Quizzes     *QuizHandler
	Users       *UserHandler
	Reports     *ReportHandler
	Files       *FileHandler
	Live        *LiveHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts the API under api. Catalog reads and file downloads
// are public; everything else requires a bearer token.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, tokens middleware.TokenValidator) {
	auth := middleware.JWT(tokens)
	instructor := middleware.RequireRoles(models.RoleInstructor)
	selfOrInstructor := middleware.RBAC(string(models.RoleInstructor), middleware.Self+":studentId")

	if h.Files != nil {
		api.GET("/files/:token", h.Files.Download)
	}

	if h.Courses != nil {
		courses := api.Group("/courses")
		courses.GET("", h.Courses.List)
		courses.GET("/:id", h.Courses.Get)

		edit := courses.Group("", auth, instructor)
		edit.POST("", h.Courses.Create)
		edit.POST("/:id/sections", h.Courses.AddSection)
		edit.POST("/:id/sections/:sectionId/lessons", h.Courses.AddLesson)
		edit.PATCH("/:id/sections/:sectionId/lessons/:lessonId", h.Courses.UpdateLesson)
		edit.DELETE("/:id/sections/:sectionId/lessons/:lessonId", h.Courses.DeleteLesson)
		edit.PUT("/:id/sections/:sectionId/lessons/:lessonId/media/:kind", h.Courses.UploadLessonMedia)
		edit.POST("/:id/sections/:sectionId/quizzes", h.Courses.AddQuiz)
		edit.POST("/:id/sections/:sectionId/quizzes/:quizId/questions", h.Courses.AddQuestion)
	}

	if h.Enrollments != nil {
		api.POST("/courses/:id/enrollments", auth, h.Enrollments.Enroll)
		api.GET("/courses/:id/enrollments", auth, instructor, h.Enrollments.ListByCourse)
		api.GET("/courses/:id/enrollments/:studentId", auth, selfOrInstructor, h.Enrollments.Get)
		api.POST("/courses/:id/lessons/:lessonId/complete", auth, h.Enrollments.CompleteLesson)
		api.POST("/courses/:id/certificate", auth, h.Enrollments.IssueCertificate)
		api.POST("/courses/:id/reconcile", auth, instructor, h.Enrollments.Reconcile)
		api.GET("/students/:studentId/enrollments", auth, selfOrInstructor, h.Enrollments.ListByStudent)
	}

	if h.Quizzes != nil {
		api.POST("/courses/:id/sections/:sectionId/quizzes/:quizId/attempts", auth, h.Quizzes.Start)
		api.GET("/courses/:id/sections/:sectionId/quizzes/:quizId/attempts", auth, h.Quizzes.List)
		attempts := api.Group("/attempts", auth)
		attempts.GET("/:attemptId", h.Quizzes.Get)
		attempts.POST("/:attemptId/answers", h.Quizzes.Answer)
		attempts.POST("/:attemptId/submit", h.Quizzes.Submit)
	}

	if h.Users != nil {
		users := api.Group("/users", auth)
		users.POST("/me", h.Users.Register)
		users.GET("/me", h.Users.Me)
		users.PUT("/me/profile-image", h.Users.UploadProfileImage)
		users.GET("/:id", middleware.RBAC(string(models.RoleInstructor), middleware.Self), h.Users.Get)
	}

	if h.Reports != nil {
		api.POST("/courses/:id/reports/progress", auth, instructor, h.Reports.ProgressReport)
	}

	if h.Live != nil {
		api.GET("/live", auth, h.Live.Stream)
	}

	if h.Metrics != nil {
		api.GET("/metrics/summary", auth, instructor, h.Metrics.Summary)
	}
}
