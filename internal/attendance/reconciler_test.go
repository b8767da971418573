package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/civiltime"
	"schoolattend/internal/logging"
	"schoolattend/internal/settings"
)

var student = Student{ID: "stu-1", Name: "Mona", ClassID: "class-a", DeviceCode: "10234", Active: true}
var employee = Employee{ID: "emp-1", Name: "Karim", DeviceCode: "900", Active: true}

func TestClassify(t *testing.T) {
	th := settings.Default().Employee

	assert.Equal(t, Timing{MinuteOfDay: 8 * 60, IsLate: false, IsCheckoutWindow: false}, Classify(8*60, th))
	assert.True(t, Classify(8*60+15, th).IsLate)
	assert.False(t, Classify(8*60+15, th).IsCheckoutWindow)
	assert.True(t, Classify(15*60, th).IsCheckoutWindow)
}

func TestStudentMorningThenAfternoonScan(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStudent(student)
	ctx := context.Background()

	morning := f.scan(t, "10234", "2025-01-20 07:55:00")
	res, err := f.reconciler.ReconcileStudent(ctx, student, morning)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, StudentPresent, res.Record.Status)
	require.NotNil(t, res.Record.EntryTime)
	assert.True(t, res.Record.EntryTime.Equal(morning.Timestamp))
	assert.Nil(t, res.Record.ExitTime)
	assert.True(t, res.Record.IsAutomated)

	afternoon := f.scan(t, "10234", "2025-01-20 15:10:00")
	res, err = f.reconciler.ReconcileStudent(ctx, student, afternoon)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExitRecorded, res.Outcome)

	stored, err := f.store.StudentRecord(ctx, student.ID, f.day(t, "2025-01-20"))
	require.NoError(t, err)
	assert.Equal(t, StudentPresent, stored.Status)
	require.NotNil(t, stored.ExitTime)
	assert.True(t, stored.ExitTime.Equal(afternoon.Timestamp))
	assert.True(t, stored.EntryTime.Equal(morning.Timestamp))
	assert.Contains(t, stored.Notes, "Exit recorded")

	f.reconciler.Wait()
	assert.Equal(t, []StudentStatus{StudentPresent, StudentPresent}, f.notifier.statuses())
}

func TestStudentReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStudent(student)
	ctx := context.Background()
	evt := f.scan(t, "10234", "2025-01-20 07:55:00")

	first, err := f.reconciler.ReconcileStudent(ctx, student, evt)
	require.NoError(t, err)
	second, err := f.reconciler.ReconcileStudent(ctx, student, evt)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRedundant, second.Outcome)
	records, err := f.store.StudentRecordsForDay(ctx, f.day(t, "2025-01-20"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.Record.ID, records[0].ID)
	assert.Equal(t, first.Record.Status, records[0].Status)
	assert.Empty(t, records[0].Notes)

	f.reconciler.Wait()
	assert.Len(t, f.notifier.statuses(), 1, "redundant scans do not notify")
}

func TestStudentOnlyScanAfterCheckoutIsLate(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStudent(student)
	evt := f.scan(t, "10234", "2025-01-20 15:30:00")

	res, err := f.reconciler.ReconcileStudent(context.Background(), student, evt)
	require.NoError(t, err)

	assert.Equal(t, StudentLate, res.Record.Status)
	require.NotNil(t, res.Record.EntryTime)
	require.NotNil(t, res.Record.ExitTime)
	assert.True(t, res.Record.EntryTime.Equal(evt.Timestamp))
	assert.True(t, res.Record.ExitTime.Equal(evt.Timestamp))
}

func TestStudentScanBucketsByCivilDay(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStudent(student)
	ctx := context.Background()

	// 00:30 Cairo is still the previous UTC day; it must land on the 21st.
	_, err := f.reconciler.ReconcileStudent(ctx, student, f.scan(t, "10234", "2025-01-20 07:00:00"))
	require.NoError(t, err)
	res, err := f.reconciler.ReconcileStudent(ctx, student, f.scan(t, "10234", "2025-01-21 00:30:00"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "2025-01-21", res.Record.Day.In(f.clock.Location()).Format(civiltime.DateLayout))
}

func TestStudentNotificationFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.err = errors.New("gateway down")
	f.store.AddStudent(student)

	res, err := f.reconciler.ReconcileStudent(context.Background(), student, f.scan(t, "10234", "2025-01-20 07:55:00"))
	require.NoError(t, err)
	f.reconciler.Wait()

	assert.Equal(t, OutcomeCreated, res.Outcome)
	_, err = f.store.StudentRecord(context.Background(), student.ID, f.day(t, "2025-01-20"))
	assert.NoError(t, err)
}

func TestStudentScanUpdatesRollup(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStudent(student)
	f.store.AddStudent(Student{ID: "stu-2", ClassID: "class-a", DeviceCode: "2", Active: true})

	_, err := f.reconciler.ReconcileStudent(context.Background(), student, f.scan(t, "10234", "2025-01-20 07:55:00"))
	require.NoError(t, err)

	summary, err := f.store.ClassSummary(context.Background(), "class-a", f.day(t, "2025-01-20").Start)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalStudents)
	require.Len(t, summary.PresentStudents, 1)
	assert.Equal(t, "stu-1", summary.PresentStudents[0].StudentID)
	require.Len(t, summary.AbsentStudents, 1)
}

func TestStudentSettingsErrorIsReturned(t *testing.T) {
	f := newFixture(t, Options{})
	r := NewReconciler(f.store, failingSettings{}, f.clock, nil, nil, logging.Discard(), Options{})

	_, err := r.ReconcileStudent(context.Background(), student, f.scan(t, "10234", "2025-01-20 07:55:00"))
	assert.Error(t, err)
}

// racingStore lets another writer win the first create.
type racingStore struct {
	*MemoryStore
	once sync.Once
}

func (s *racingStore) CreateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error) {
	var raced bool
	s.once.Do(func() {
		_, _ = s.MemoryStore.CreateStudentRecord(ctx, rec)
		raced = true
	})
	if raced {
		return StudentRecord{}, ErrDuplicate
	}
	return s.MemoryStore.CreateStudentRecord(ctx, rec)
}

func TestStudentLostCreateRaceBecomesUpdate(t *testing.T) {
	f := newFixture(t, Options{})
	store := &racingStore{MemoryStore: f.store}
	store.AddStudent(student)
	r := NewReconciler(store, f.settings, f.clock, nil, nil, logging.Discard(), Options{})

	res, err := r.ReconcileStudent(context.Background(), student, f.scan(t, "10234", "2025-01-20 07:55:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedundant, res.Outcome, "winner already holds the entry")

	records, err := store.StudentRecordsForDay(context.Background(), f.day(t, "2025-01-20"))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStudentConcurrentScansCreateOneRecord(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStudent(student)
	evt := f.scan(t, "10234", "2025-01-20 07:55:00")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reconciler.ReconcileStudent(context.Background(), student, evt)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	f.reconciler.Wait()

	records, err := f.store.StudentRecordsForDay(context.Background(), f.day(t, "2025-01-20"))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEmployeeFullDayHours(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.reconciler.ReconcileEmployee(ctx, employee, f.scan(t, "900", "2025-01-20 08:00:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, EmployeePresent, res.Record.Status)
	assert.Nil(t, res.Record.CheckOutTime)

	res, err = f.reconciler.ReconcileEmployee(ctx, employee, f.scan(t, "900", "2025-01-20 16:30:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckOutRecorded, res.Outcome)
	assert.Equal(t, 8.5, res.Record.TotalHours)
	require.Len(t, res.Record.Scans, 2)
	assert.Equal(t, ScanCheckIn, res.Record.Scans[0].ScanType)
	assert.Equal(t, ScanCheckOut, res.Record.Scans[1].ScanType)
}

func TestEmployeeIntradayScansAccumulate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, raw := range []string{
		"2025-01-20 08:00:00",
		"2025-01-20 12:00:00",
		"2025-01-20 12:40:00",
		"2025-01-20 16:00:00",
		"2025-01-20 17:20:00",
	} {
		_, err := f.reconciler.ReconcileEmployee(ctx, employee, f.scan(t, "900", raw))
		require.NoError(t, err)
	}

	rec, err := f.store.EmployeeRecord(ctx, employee.ID, f.day(t, "2025-01-20"))
	require.NoError(t, err)
	require.Len(t, rec.Scans, 5)
	assert.Equal(t, []ScanType{ScanCheckIn, ScanCheckIn, ScanCheckIn, ScanCheckOut, ScanCheckOut},
		[]ScanType{rec.Scans[0].ScanType, rec.Scans[1].ScanType, rec.Scans[2].ScanType, rec.Scans[3].ScanType, rec.Scans[4].ScanType})
	assert.Equal(t, 8.0, rec.TotalHours, "later checkouts do not move the first")
	assert.Equal(t, EmployeePresent, rec.Status)
}

func TestEmployeeFirstScanInCheckoutWindowIsHalfDay(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.reconciler.ReconcileEmployee(context.Background(), employee, f.scan(t, "900", "2025-01-20 15:05:00"))
	require.NoError(t, err)

	assert.Equal(t, EmployeeHalfDay, res.Record.Status)
	require.NotNil(t, res.Record.CheckInTime)
	require.NotNil(t, res.Record.CheckOutTime)
	assert.Equal(t, 0.0, res.Record.TotalHours)
	assert.Equal(t, ScanCheckOut, res.Record.Scans[0].ScanType)
}

func TestEmployeeDedupWindow(t *testing.T) {
	f := newFixture(t, Options{ScanDedupWindow: time.Minute})
	ctx := context.Background()

	_, err := f.reconciler.ReconcileEmployee(ctx, employee, f.scan(t, "900", "2025-01-20 08:00:00"))
	require.NoError(t, err)
	res, err := f.reconciler.ReconcileEmployee(ctx, employee, f.scan(t, "900", "2025-01-20 08:00:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateScan, res.Outcome)

	res, err = f.reconciler.ReconcileEmployee(ctx, employee, f.scan(t, "900", "2025-01-20 08:02:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeScanAppended, res.Outcome)
	assert.Len(t, res.Record.Scans, 2)
}

func TestEmployeeReplayWithoutDedupAppends(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	evt := f.scan(t, "900", "2025-01-20 08:00:00")

	_, err := f.reconciler.ReconcileEmployee(ctx, employee, evt)
	require.NoError(t, err)
	res, err := f.reconciler.ReconcileEmployee(ctx, employee, evt)
	require.NoError(t, err)

	assert.Equal(t, OutcomeScanAppended, res.Outcome)
	assert.Len(t, res.Record.Scans, 2)
}
