package attendance

import "time"

// VerifyMethod is how the terminal identified the subject.
type VerifyMethod string

const (
	VerifyPassword        VerifyMethod = "Password"
	VerifyFingerprint     VerifyMethod = "Fingerprint"
	VerifyRFIDCard        VerifyMethod = "RFIDCard"
	VerifyFaceRecognition VerifyMethod = "FaceRecognition"
)

// ScanEvent is one normalized device report.
type ScanEvent struct {
	SubjectCode  string       `json:"subject_code"`
	Timestamp    time.Time    `json:"timestamp"`
	VerifyMethod VerifyMethod `json:"verify_method"`
	DeviceSerial string       `json:"device_serial"`
}

// StudentStatus values.
type StudentStatus string

const (
	StudentPresent    StudentStatus = "Present"
	StudentAbsent     StudentStatus = "Absent"
	StudentLate       StudentStatus = "Late"
	StudentEarlyLeave StudentStatus = "EarlyLeave"
	StudentPermission StudentStatus = "Permission"
)

// Valid reports whether s is a known status.
func (s StudentStatus) Valid() bool {
	switch s {
	case StudentPresent, StudentAbsent, StudentLate, StudentEarlyLeave, StudentPermission:
		return true
	}
	return false
}

// EmployeeStatus values.
type EmployeeStatus string

const (
	EmployeePresent EmployeeStatus = "Present"
	EmployeeAbsent  EmployeeStatus = "Absent"
	EmployeeLate    EmployeeStatus = "Late"
	EmployeeHalfDay EmployeeStatus = "HalfDay"
	EmployeeOnLeave EmployeeStatus = "OnLeave"
)

// ScanType tags an entry in an employee's scan list.
type ScanType string

const (
	ScanCheckIn  ScanType = "CheckIn"
	ScanCheckOut ScanType = "CheckOut"
	ScanUnknown  ScanType = "Unknown"
)

// Student is an attendance-bearing pupil.
type Student struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ClassID    string `json:"class_id"`
	DeviceCode string `json:"device_code"`
	Active     bool   `json:"active"`
}

// Employee is a staff member.
type Employee struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceCode string `json:"device_code"`
	Active     bool   `json:"active"`
}

// Modification is one manual change to a student record.
type Modification struct {
	PreviousStatus StudentStatus `json:"previous_status"`
	NewStatus      StudentStatus `json:"new_status"`
	Reason         string        `json:"reason"`
	ModifiedBy     string        `json:"modified_by"`
	ModifiedAt     time.Time     `json:"modified_at"`
}

// StudentRecord is the single attendance row for (student, day).
// Day is the start of the civil day window.
type StudentRecord struct {
	ID                  string         `json:"id"`
	StudentID           string         `json:"student_id"`
	ClassID             string         `json:"class_id"`
	Day                 time.Time      `json:"day"`
	Status              StudentStatus  `json:"status"`
	EntryTime           *time.Time     `json:"entry_time,omitempty"`
	ExitTime            *time.Time     `json:"exit_time,omitempty"`
	VerifyMethod        VerifyMethod   `json:"verify_method,omitempty"`
	DeviceSerial        string         `json:"device_serial,omitempty"`
	IsAutomated         bool           `json:"is_automated"`
	Notes               []string       `json:"notes,omitempty"`
	ModificationHistory []Modification `json:"modification_history,omitempty"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// EmployeeScan is one entry in an employee's daily scan list.
type EmployeeScan struct {
	ScanTime     time.Time    `json:"scan_time"`
	ScanType     ScanType     `json:"scan_type"`
	VerifyMethod VerifyMethod `json:"verify_method"`
	DeviceSerial string       `json:"device_serial"`
}

// EmployeeRecord is the single attendance row for (employee, day).
type EmployeeRecord struct {
	ID           string         `json:"id"`
	EmployeeID   string         `json:"employee_id"`
	Day          time.Time      `json:"day"`
	CheckInTime  *time.Time     `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time     `json:"check_out_time,omitempty"`
	Scans        []EmployeeScan `json:"scans"`
	TotalHours   float64        `json:"total_hours"`
	Status       EmployeeStatus `json:"status"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PresentEntry, LateEntry, EarlyLeaveEntry and StudentRef are rollup rows.
type PresentEntry struct {
	StudentID string     `json:"student_id"`
	EntryTime *time.Time `json:"entry_time,omitempty"`
	ExitTime  *time.Time `json:"exit_time,omitempty"`
}

type LateEntry struct {
	StudentID   string     `json:"student_id"`
	EntryTime   *time.Time `json:"entry_time,omitempty"`
	MinutesLate int        `json:"minutes_late"`
}

type EarlyLeaveEntry struct {
	StudentID string     `json:"student_id"`
	ExitTime  *time.Time `json:"exit_time,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

type StudentRef struct {
	StudentID string `json:"student_id"`
}

// ClassSummary is the derived attendance picture of one class for one day.
// The five lists partition the class's active students.
type ClassSummary struct {
	ClassID            string            `json:"class_id"`
	Day                time.Time         `json:"day"`
	TotalStudents      int               `json:"total_students"`
	PresentStudents    []PresentEntry    `json:"present_students"`
	AbsentStudents     []StudentRef      `json:"absent_students"`
	LateStudents       []LateEntry       `json:"late_students"`
	EarlyLeaveStudents []EarlyLeaveEntry `json:"early_leave_students"`
	PermissionStudents []StudentRef      `json:"permission_students"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Counted returns the number of students placed in any list.
func (s ClassSummary) Counted() int {
	return len(s.PresentStudents) + len(s.AbsentStudents) + len(s.LateStudents) +
		len(s.EarlyLeaveStudents) + len(s.PermissionStudents)
}
