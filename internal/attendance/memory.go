package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolattend/internal/civiltime"
)

// MemoryStore is an in-process Store used in single-binary dev mode and in
// tests. It enforces the same (subject, day) uniqueness as the SQL schema.
type MemoryStore struct {
	mu        sync.Mutex
	students  map[string]Student
	employees map[string]Employee
	studRecs  map[string]StudentRecord
	empRecs   map[string]EmployeeRecord
	summaries map[string]ClassSummary
	devices   map[string]time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:  map[string]Student{},
		employees: map[string]Employee{},
		studRecs:  map[string]StudentRecord{},
		empRecs:   map[string]EmployeeRecord{},
		summaries: map[string]ClassSummary{},
		devices:   map[string]time.Time{},
	}
}

func dayKey(id string, day time.Time) string {
	return id + "|" + day.UTC().Format(time.RFC3339)
}

// AddStudent registers a student.
func (m *MemoryStore) AddStudent(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.students[s.ID] = s
}

// AddEmployee registers an employee.
func (m *MemoryStore) AddEmployee(e Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.employees[e.ID] = e
}

// ActiveStudentByCode implements subject.Directory.
func (m *MemoryStore) ActiveStudentByCode(ctx context.Context, code string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.Active && s.DeviceCode == code {
			return s, nil
		}
	}
	return Student{}, ErrNotFound
}

// ActiveEmployeeByCode implements subject.Directory.
func (m *MemoryStore) ActiveEmployeeByCode(ctx context.Context, code string) (Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.employees {
		if e.Active && e.DeviceCode == code {
			return e, nil
		}
	}
	return Employee{}, ErrNotFound
}

// Student returns a student by id.
func (m *MemoryStore) Student(ctx context.Context, id string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

// ActiveStudents returns every active student ordered by id.
func (m *MemoryStore) ActiveStudents(ctx context.Context) ([]Student, error) {
	return m.filterStudents(func(s Student) bool { return s.Active }), nil
}

// ActiveStudentsInClass returns active students of one class.
func (m *MemoryStore) ActiveStudentsInClass(ctx context.Context, classID string) ([]Student, error) {
	return m.filterStudents(func(s Student) bool { return s.Active && s.ClassID == classID }), nil
}

func (m *MemoryStore) filterStudents(keep func(Student) bool) []Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Student
	for _, s := range m.students {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StudentRecord returns the record for (student, day).
func (m *MemoryStore) StudentRecord(ctx context.Context, studentID string, day civiltime.Window) (StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.studRecs {
		if r.StudentID == studentID && day.Contains(r.Day) {
			return cloneStudentRecord(r), nil
		}
	}
	return StudentRecord{}, ErrNotFound
}

// CreateStudentRecord inserts a record or fails with ErrDuplicate.
func (m *MemoryStore) CreateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertStudentLocked(rec)
}

func (m *MemoryStore) insertStudentLocked(rec StudentRecord) (StudentRecord, error) {
	key := dayKey(rec.StudentID, rec.Day)
	if _, exists := m.studRecs[key]; exists {
		return StudentRecord{}, ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.Version = 1
	m.studRecs[key] = cloneStudentRecord(rec)
	return rec, nil
}

// UpdateStudentRecord overwrites an existing record whose version matches.
func (m *MemoryStore) UpdateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(rec.StudentID, rec.Day)
	cur, ok := m.studRecs[key]
	if !ok || cur.ID != rec.ID {
		return StudentRecord{}, ErrNotFound
	}
	if cur.Version != rec.Version {
		return StudentRecord{}, ErrConflict
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	m.studRecs[key] = cloneStudentRecord(rec)
	return cloneStudentRecord(rec), nil
}

// StudentRecordsForClass returns the class's records for a day.
func (m *MemoryStore) StudentRecordsForClass(ctx context.Context, classID string, day civiltime.Window) ([]StudentRecord, error) {
	return m.filterRecords(func(r StudentRecord) bool { return r.ClassID == classID && day.Contains(r.Day) }), nil
}

// StudentRecordsForDay returns every student record for a day.
func (m *MemoryStore) StudentRecordsForDay(ctx context.Context, day civiltime.Window) ([]StudentRecord, error) {
	return m.filterRecords(func(r StudentRecord) bool { return day.Contains(r.Day) }), nil
}

func (m *MemoryStore) filterRecords(keep func(StudentRecord) bool) []StudentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StudentRecord
	for _, r := range m.studRecs {
		if keep(r) {
			out = append(out, cloneStudentRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// InsertAbsences inserts rows that do not collide with existing ones.
func (m *MemoryStore) InsertAbsences(ctx context.Context, recs []StudentRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, r := range recs {
		if _, err := m.insertStudentLocked(r); err == nil {
			inserted++
		}
	}
	return inserted, nil
}

// EmployeeRecord returns the record for (employee, day).
func (m *MemoryStore) EmployeeRecord(ctx context.Context, employeeID string, day civiltime.Window) (EmployeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.empRecs {
		if r.EmployeeID == employeeID && day.Contains(r.Day) {
			return cloneEmployeeRecord(r), nil
		}
	}
	return EmployeeRecord{}, ErrNotFound
}

// CreateEmployeeRecord inserts a record or fails with ErrDuplicate.
func (m *MemoryStore) CreateEmployeeRecord(ctx context.Context, rec EmployeeRecord) (EmployeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(rec.EmployeeID, rec.Day)
	if _, exists := m.empRecs[key]; exists {
		return EmployeeRecord{}, ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.Version = 1
	m.empRecs[key] = cloneEmployeeRecord(rec)
	return rec, nil
}

// UpdateEmployeeRecord overwrites an existing record whose version matches.
func (m *MemoryStore) UpdateEmployeeRecord(ctx context.Context, rec EmployeeRecord) (EmployeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(rec.EmployeeID, rec.Day)
	cur, ok := m.empRecs[key]
	if !ok || cur.ID != rec.ID {
		return EmployeeRecord{}, ErrNotFound
	}
	if cur.Version != rec.Version {
		return EmployeeRecord{}, ErrConflict
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	m.empRecs[key] = cloneEmployeeRecord(rec)
	return cloneEmployeeRecord(rec), nil
}

// UpsertClassSummary replaces the summary for (class, day).
func (m *MemoryStore) UpsertClassSummary(ctx context.Context, s ClassSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[dayKey(s.ClassID, s.Day)] = s
	return nil
}

// ClassSummary returns a stored summary.
func (m *MemoryStore) ClassSummary(ctx context.Context, classID string, day time.Time) (ClassSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[dayKey(classID, day)]
	if !ok {
		return ClassSummary{}, ErrNotFound
	}
	return s, nil
}

// TouchDevice records that a terminal checked in.
func (m *MemoryStore) TouchDevice(ctx context.Context, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[serial] = time.Now().UTC()
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func cloneStudentRecord(r StudentRecord) StudentRecord {
	r.Notes = append([]string(nil), r.Notes...)
	r.ModificationHistory = append([]Modification(nil), r.ModificationHistory...)
	return r
}

func cloneEmployeeRecord(r EmployeeRecord) EmployeeRecord {
	r.Scans = append([]EmployeeScan(nil), r.Scans...)
	return r
}
