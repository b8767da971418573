package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/attendance"
	"schoolattend/internal/civiltime"
	"schoolattend/internal/logging"
	"schoolattend/internal/queue"
	"schoolattend/internal/settings"
	"schoolattend/internal/subject"
)

type env struct {
	store     *attendance.MemoryStore
	clock     *civiltime.Normalizer
	processor *Processor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock, err := civiltime.Load(civiltime.DefaultZone, time.Now)
	require.NoError(t, err)

	store := attendance.NewMemoryStore()
	store.AddStudent(attendance.Student{ID: "stu-1", ClassID: "c1", DeviceCode: "10234", Active: true})
	store.AddEmployee(attendance.Employee{ID: "emp-1", DeviceCode: "900", Active: true})
	store.AddStudent(attendance.Student{ID: "stu-2", ClassID: "c1", DeviceCode: "77", Active: true})
	store.AddEmployee(attendance.Employee{ID: "emp-2", DeviceCode: "77", Active: true})

	svc := settings.NewService(settings.NewMemoryStore(), logging.Discard())
	rec := attendance.NewReconciler(store, svc, clock, nil, nil, logging.Discard(), attendance.Options{})
	return &env{
		store:     store,
		clock:     clock,
		processor: NewProcessor(subject.NewResolver(store), rec, logging.Discard()),
	}
}

func (e *env) scan(t *testing.T, code, raw string) attendance.ScanEvent {
	ts, ok := e.clock.Parse(raw)
	require.True(t, ok)
	return attendance.ScanEvent{SubjectCode: code, Timestamp: ts, VerifyMethod: attendance.VerifyFaceRecognition, DeviceSerial: "SN-1"}
}

func TestProcessRoutesByKind(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day, err := e.clock.ParseDay("2025-01-20")
	require.NoError(t, err)

	require.NoError(t, e.processor.Process(ctx, e.scan(t, "10234", "2025-01-20 07:55:00")))
	require.NoError(t, e.processor.Process(ctx, e.scan(t, "900", "2025-01-20 08:05:00")))

	_, err = e.store.StudentRecord(ctx, "stu-1", day)
	assert.NoError(t, err)
	emp, err := e.store.EmployeeRecord(ctx, "emp-1", day)
	require.NoError(t, err)
	assert.Len(t, emp.Scans, 1)
}

func TestProcessDropsUnknownAndAmbiguous(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day, err := e.clock.ParseDay("2025-01-20")
	require.NoError(t, err)

	assert.NoError(t, e.processor.Process(ctx, e.scan(t, "404", "2025-01-20 07:55:00")))
	assert.NoError(t, e.processor.Process(ctx, e.scan(t, "77", "2025-01-20 07:55:00")))

	records, err := e.store.StudentRecordsForDay(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = e.store.EmployeeRecord(ctx, "emp-2", day)
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func TestRunConsumesQueue(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(8)
	msg, err := queue.NewScanMessage(e.scan(t, "10234", "2025-01-20 07:55:00"))
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "checkin", Body: []byte("legacy")}))
	require.NoError(t, q.Publish(ctx, msg))

	done := make(chan error, 1)
	go func() { done <- e.processor.Run(ctx, q) }()

	day, err := e.clock.ParseDay("2025-01-20")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, err := e.store.StudentRecord(context.Background(), "stu-1", day)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
