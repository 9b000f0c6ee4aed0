package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/course-sync/internal/models"
)

func TestQueryAffects(t *testing.T) {
	point := Query{Collection: "courses", ID: "c1"}
	assert.True(t, point.Affects(Change{Collection: "courses", ID: "c1"}))
	assert.False(t, point.Affects(Change{Collection: "courses", ID: "c2"}))
	assert.False(t, point.Affects(Change{Collection: "users", ID: "c1"}))

	all := Query{Collection: "courses"}
	assert.True(t, all.Affects(Change{Collection: "courses", ID: "anything"}))
}

func TestQueryMatches(t *testing.T) {
	rec := models.Record{
		"studentId":        "s1",
		"progress":         float64(50),
		"completedLessons": []interface{}{"l1", "l2"},
	}

	tests := []struct {
		name  string
		query Query
		want  bool
	}{
		{"equal", Query{Collection: "e"}.Where("studentId", OpEqual, "s1"), true},
		{"equal number", Query{Collection: "e"}.Where("progress", OpEqual, 50), true},
		{"not equal", Query{Collection: "e"}.Where("studentId", OpEqual, "s2"), false},
		{"missing field", Query{Collection: "e"}.Where("courseId", OpEqual, "c1"), false},
		{"in", Query{Collection: "e"}.Where("studentId", OpIn, []string{"s0", "s1"}), true},
		{"contains", Query{Collection: "e"}.Where("completedLessons", OpContains, "l2"), true},
		{"contains miss", Query{Collection: "e"}.Where("completedLessons", OpContains, "l3"), false},
		{"point other id", Query{Collection: "e", ID: "x"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.query.Matches("s1_c1", rec))
		})
	}
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := Query{Collection: "e"}.Where("a", OpEqual, 1)
	left := base.Where("b", OpEqual, 2)
	right := base.Where("c", OpEqual, 3)
	assert.Len(t, base.Filters, 1)
	assert.Equal(t, "b", left.Filters[1].Field)
	assert.Equal(t, "c", right.Filters[1].Field)
}
