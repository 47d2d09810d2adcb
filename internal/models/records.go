package models

import "time"

// Collection names a record type served under /api/{collection}.
type Collection string

const (
	CollectionCourses    Collection = "courses"
	CollectionStudents   Collection = "students"
	CollectionGrades     Collection = "grades"
	CollectionTasks      Collection = "tasks"
	CollectionAttendance Collection = "attendance"
)

var Collections = []Collection{
	CollectionCourses,
	CollectionStudents,
	CollectionGrades,
	CollectionTasks,
	CollectionAttendance,
}

func ValidCollection(c Collection) bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Record is one schemaless document of a collection. Fields holds the
// top-level JSON object submitted by the client after validation.
type Record struct {
	ID         string         `json:"id" db:"id"`
	Collection Collection     `json:"collection" db:"collection"`
	Fields     map[string]any `json:"fields" db:"fields"`
	IsActive   bool           `json:"is_active" db:"is_active"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// RecordFilter selects records by exact match on top-level fields.
type RecordFilter struct {
	Collection Collection
	Equals     map[string]string
	Limit      int
	Offset     int
}

// Matches reports whether r satisfies every equality in f. Values are
// compared on their string form so query parameters match numbers and bools.
func (f RecordFilter) Matches(r *Record) bool {
	if r.Collection != f.Collection || !r.IsActive {
		return false
	}
	for k, want := range f.Equals {
		v, ok := r.Fields[k]
		if !ok || stringify(v) != want {
			return false
		}
	}
	return true
}
