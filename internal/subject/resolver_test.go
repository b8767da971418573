package subject

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/attendance"
)

func newDirectory() *attendance.MemoryStore {
	dir := attendance.NewMemoryStore()
	dir.AddStudent(attendance.Student{ID: "stu-1", ClassID: "c1", DeviceCode: "10234", Active: true})
	dir.AddStudent(attendance.Student{ID: "stu-2", ClassID: "c1", DeviceCode: "555", Active: false})
	dir.AddEmployee(attendance.Employee{ID: "emp-1", DeviceCode: "900", Active: true})
	dir.AddEmployee(attendance.Employee{ID: "emp-2", DeviceCode: "555", Active: true})
	return dir
}

func TestResolve(t *testing.T) {
	r := NewResolver(newDirectory())

	tests := []struct {
		name string
		code string
		kind Kind
		id   string
		err  error
	}{
		{name: "student", code: "10234", kind: KindStudent, id: "stu-1"},
		{name: "employee", code: "900", kind: KindEmployee, id: "emp-1"},
		{name: "inactive student does not shadow employee", code: "555", kind: KindEmployee, id: "emp-2"},
		{name: "unknown", code: "404", err: ErrNotFound},
		{name: "empty", code: "", err: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.code)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.id, got.ID())
		})
	}
}

func TestResolveCollision(t *testing.T) {
	dir := newDirectory()
	dir.AddEmployee(attendance.Employee{ID: "emp-3", DeviceCode: "10234", Active: true})

	_, err := NewResolver(dir).Resolve(context.Background(), "10234")
	assert.ErrorIs(t, err, ErrAmbiguousCode)
}

type brokenDirectory struct{}

func (brokenDirectory) ActiveStudentByCode(context.Context, string) (attendance.Student, error) {
	return attendance.Student{}, errors.New("connection reset")
}

func (brokenDirectory) ActiveEmployeeByCode(context.Context, string) (attendance.Employee, error) {
	return attendance.Employee{}, attendance.ErrNotFound
}

func TestResolveLookupFailure(t *testing.T) {
	_, err := NewResolver(brokenDirectory{}).Resolve(context.Background(), "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
