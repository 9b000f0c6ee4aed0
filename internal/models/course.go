package models

import "time"

// QuestionType tags how a question is presented and answered.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionShortAnswer    QuestionType = "short-answer"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer:
		return true
	}
	return false
}

// Course is the aggregate root for catalog content.
type Course struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ImageURL         string    `json:"imageUrl"`
	Instructor       string    `json:"instructor"`
	Rating           float64   `json:"rating"`
	Duration         string    `json:"duration"`
	Category         string    `json:"category"`
	Price            float64   `json:"price"`
	EnrolledStudents int       `json:"enrolledStudents"`
	Sections         []Section `json:"sections"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Section groups lessons and quizzes in curriculum order.
type Section struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
	Quizzes []Quiz   `json:"quizzes"`
}

// Lesson is a single unit of content. Completed is display state only;
// per-student completion lives on Enrollment.
type Lesson struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	VideoURL    string `json:"videoUrl"`
	ImageURL    string `json:"imageUrl"`
	PDFURL      string `json:"pdfUrl"`
	Completed   bool   `json:"completed"`
}

// Quiz is a scored set of questions attached to a section.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	PassingScore    int        `json:"passingScore"`
	TimeLimit       int        `json:"timeLimit"`
	AttemptsAllowed int        `json:"attemptsAllowed"`
	Questions       []Question `json:"questions"`
}

// TimeLimitDuration converts the minute based limit; zero means unlimited.
func (q Quiz) TimeLimitDuration() time.Duration {
	if q.TimeLimit <= 0 {
		return 0
	}
	return time.Duration(q.TimeLimit) * time.Minute
}

// TotalPoints sums the weight of every question.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// Question is a tagged variant over QuestionType. Options are only meaningful
// for multiple-choice questions.
type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correctAnswer"`
	Points        int          `json:"points"`
}

// LessonIDs returns every lesson id in the course in curriculum order.
func (c *Course) LessonIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, c.TotalLessons())
	for _, section := range c.Sections {
		for _, lesson := range section.Lessons {
			ids = append(ids, lesson.ID)
		}
	}
	return ids
}

// TotalLessons counts lessons across all sections.
func (c *Course) TotalLessons() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, section := range c.Sections {
		total += len(section.Lessons)
	}
	return total
}

// HasLesson reports whether lessonID belongs to any section of the course.
func (c *Course) HasLesson(lessonID string) bool {
	_, _, ok := c.FindLesson(lessonID)
	return ok
}

// FindSection returns the index of the section with id.
func (c *Course) FindSection(sectionID string) (int, bool) {
	if c == nil {
		return -1, false
	}
	for i := range c.Sections {
		if c.Sections[i].ID == sectionID {
			return i, true
		}
	}
	return -1, false
}

// FindLesson returns section and lesson indexes for lessonID.
func (c *Course) FindLesson(lessonID string) (int, int, bool) {
	if c == nil {
		return -1, -1, false
	}
	for si := range c.Sections {
		for li := range c.Sections[si].Lessons {
			if c.Sections[si].Lessons[li].ID == lessonID {
				return si, li, true
			}
		}
	}
	return -1, -1, false
}

// FindQuiz locates a quiz within a section.
func (c *Course) FindQuiz(sectionID, quizID string) (*Quiz, bool) {
	si, ok := c.FindSection(sectionID)
	if !ok {
		return nil, false
	}
	for qi := range c.Sections[si].Quizzes {
		if c.Sections[si].Quizzes[qi].ID == quizID {
			return &c.Sections[si].Quizzes[qi], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so structural edits never alias the original value.
func (c *Course) Clone() *Course {
	if c == nil {
		return nil
	}
	out := *c
	if c.Sections != nil {
		out.Sections = make([]Section, len(c.Sections))
		for i, s := range c.Sections {
			out.Sections[i] = s.clone()
		}
	}
	return &out
}

func (s Section) clone() Section {
	out := s
	if s.Lessons != nil {
		out.Lessons = append([]Lesson(nil), s.Lessons...)
	}
	if s.Quizzes != nil {
		out.Quizzes = make([]Quiz, len(s.Quizzes))
		for i, q := range s.Quizzes {
			cq := q
			if q.Questions != nil {
				cq.Questions = make([]Question, len(q.Questions))
				for j, question := range q.Questions {
					cq.Questions[j] = question
					if question.Options != nil {
						cq.Questions[j].Options = append([]string(nil), question.Options...)
					}
				}
			}
			out.Quizzes[i] = cq
		}
	}
	return out
}
