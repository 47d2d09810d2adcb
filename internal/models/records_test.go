package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordFilter_Matches(t *testing.T) {
	r := &Record{
		Collection: CollectionGrades,
		IsActive:   true,
		Fields:     map[string]any{"studentId": "s1", "score": 4.5, "final": true},
	}

	assert.True(t, RecordFilter{Collection: CollectionGrades}.Matches(r))
	assert.True(t, RecordFilter{Collection: CollectionGrades, Equals: map[string]string{"studentId": "s1", "score": "4.5", "final": "true"}}.Matches(r))
	assert.False(t, RecordFilter{Collection: CollectionGrades, Equals: map[string]string{"studentId": "s2"}}.Matches(r))
	assert.False(t, RecordFilter{Collection: CollectionGrades, Equals: map[string]string{"courseId": "c1"}}.Matches(r))
	assert.False(t, RecordFilter{Collection: CollectionTasks}.Matches(r))

	r.IsActive = false
	assert.False(t, RecordFilter{Collection: CollectionGrades}.Matches(r))
}

func TestValidCollection(t *testing.T) {
	assert.True(t, ValidCollection("attendance"))
	assert.False(t, ValidCollection("users"))
	assert.True(t, ValidRole(RoleTeacher))
	assert.False(t, ValidRole("PRINCIPAL"))
}
