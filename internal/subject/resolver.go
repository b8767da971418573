// Package subject maps device user codes to students or employees.
package subject

import (
	"context"
	"errors"
	"fmt"

	"schoolattend/internal/attendance"
)

var (
	// ErrNotFound means no active student or employee holds the code.
	ErrNotFound = errors.New("subject: not found")
	// ErrAmbiguousCode means the code matches both a student and an employee.
	ErrAmbiguousCode = errors.New("subject: code matches both a student and an employee")
)

// Kind distinguishes the two subject namespaces.
type Kind string

const (
	KindStudent  Kind = "student"
	KindEmployee Kind = "employee"
)

// Subject is a resolved device user. Exactly one of Student or Employee is set.
type Subject struct {
	Kind     Kind
	Student  *attendance.Student
	Employee *attendance.Employee
}

// ID returns the entity id.
func (s Subject) ID() string {
	switch s.Kind {
	case KindStudent:
		return s.Student.ID
	case KindEmployee:
		return s.Employee.ID
	}
	return ""
}

// Directory looks up active subjects by device code. Lookups return
// attendance.ErrNotFound on a miss.
type Directory interface {
	ActiveStudentByCode(ctx context.Context, code string) (attendance.Student, error)
	ActiveEmployeeByCode(ctx context.Context, code string) (attendance.Employee, error)
}

// Resolver resolves codes against a Directory.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve checks students first, then employees. Both namespaces are always
// consulted so a collision is reported instead of silently picking one.
func (r *Resolver) Resolve(ctx context.Context, code string) (Subject, error) {
	if code == "" {
		return Subject{}, ErrNotFound
	}
	st, err := r.dir.ActiveStudentByCode(ctx, code)
	studentFound := err == nil
	if err != nil && !errors.Is(err, attendance.ErrNotFound) {
		return Subject{}, fmt.Errorf("lookup student %q: %w", code, err)
	}

	emp, err := r.dir.ActiveEmployeeByCode(ctx, code)
	employeeFound := err == nil
	if err != nil && !errors.Is(err, attendance.ErrNotFound) {
		return Subject{}, fmt.Errorf("lookup employee %q: %w", code, err)
	}

	switch {
	case studentFound && employeeFound:
		return Subject{}, ErrAmbiguousCode
	case studentFound:
		return Subject{Kind: KindStudent, Student: &st}, nil
	case employeeFound:
		return Subject{Kind: KindEmployee, Employee: &emp}, nil
	}
	return Subject{}, ErrNotFound
}
