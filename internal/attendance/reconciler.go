package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"schoolattend/internal/civiltime"
	"schoolattend/internal/logging"
	"schoolattend/internal/metrics"
	"schoolattend/internal/settings"
)

// Outcome names the transition a scan produced.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeEntryRecorded    Outcome = "entry_recorded"
	OutcomeExitRecorded     Outcome = "exit_recorded"
	OutcomeCheckInRecorded  Outcome = "check_in_recorded"
	OutcomeCheckOutRecorded Outcome = "check_out_recorded"
	OutcomeScanAppended     Outcome = "scan_appended"
	OutcomeRedundant        Outcome = "redundant"
	OutcomeDuplicateScan    Outcome = "duplicate_scan"
)

// Notifier delivers attendance notifications for students.
type Notifier interface {
	NotifyAttendance(ctx context.Context, studentID string, status StudentStatus, at time.Time) error
}

// SettingsSource returns the current thresholds. It is read on every scan.
type SettingsSource interface {
	Current(ctx context.Context) (settings.Settings, error)
}

// Timing is a scan's position relative to the configured thresholds.
type Timing struct {
	MinuteOfDay      int
	IsLate           bool
	IsCheckoutWindow bool
}

// Classify compares a minute-of-day against one subject kind's thresholds.
func Classify(minuteOfDay int, th settings.Thresholds) Timing {
	return Timing{
		MinuteOfDay:      minuteOfDay,
		IsLate:           minuteOfDay >= th.Late(),
		IsCheckoutWindow: minuteOfDay >= th.Checkout(),
	}
}

// StudentResult reports what a student scan did.
type StudentResult struct {
	Outcome Outcome
	Record  StudentRecord
}

// EmployeeResult reports what an employee scan did.
type EmployeeResult struct {
	Outcome Outcome
	Record  EmployeeRecord
}

// maxWriteAttempts bounds how often a read-modify-write is replayed after
// losing to a concurrent writer.
const maxWriteAttempts = 5

// Options tune the reconciler.
type Options struct {
	// ScanDedupWindow drops employee scans this close to the previous one.
	// Zero disables the guard.
	ScanDedupWindow time.Duration
	// NotifyTimeout bounds each detached notification call.
	NotifyTimeout time.Duration
}

// Reconciler turns resolved scans into per-(subject, day) attendance records.
type Reconciler struct {
	store    Store
	settings SettingsSource
	clock    *civiltime.Normalizer
	rollup   *Rollup
	notifier Notifier
	logger   *slog.Logger
	opts     Options

	pending sync.WaitGroup
}

// NewReconciler wires a reconciler. notifier may be nil.
func NewReconciler(store Store, src SettingsSource, clock *civiltime.Normalizer, rollup *Rollup, notifier Notifier, logger *slog.Logger, opts Options) *Reconciler {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		settings: src,
		clock:    clock,
		rollup:   rollup,
		notifier: notifier,
		logger:   logger.With("component", "reconciler"),
		opts:     opts,
	}
}

// Wait blocks until detached notifications have finished.
func (r *Reconciler) Wait() { r.pending.Wait() }

// ReconcileStudent applies one scan to a student's record for the scan's civil day.
func (r *Reconciler) ReconcileStudent(ctx context.Context, st Student, evt ScanEvent) (StudentResult, error) {
	logger := logging.FromContext(ctx, r.logger).With("student_id", st.ID, "scan", evt.Timestamp)

	cfg, err := r.settings.Current(ctx)
	if err != nil {
		return StudentResult{}, fmt.Errorf("load settings: %w", err)
	}
	day := r.clock.DayBounds(evt.Timestamp)
	timing := Classify(r.clock.MinuteOfDay(evt.Timestamp), cfg.Student)

	for attempt := 1; ; attempt++ {
		res, err := r.reconcileStudentOnce(ctx, logger, st, evt, day, timing)
		if !errors.Is(err, ErrConflict) || attempt == maxWriteAttempts {
			return res, err
		}
		logger.Debug("student record changed concurrently, reapplying scan", "attempt", attempt)
	}
}

func (r *Reconciler) reconcileStudentOnce(ctx context.Context, logger *slog.Logger, st Student, evt ScanEvent, day civiltime.Window, timing Timing) (StudentResult, error) {
	rec, err := r.store.StudentRecord(ctx, st.ID, day)
	switch {
	case errors.Is(err, ErrNotFound):
		created, cerr := r.store.CreateStudentRecord(ctx, newStudentRecord(st, day, evt, timing))
		if cerr == nil {
			r.afterStudentWrite(ctx, created, day, evt)
			r.count("student", OutcomeCreated)
			logger.Info("student attendance created", "status", created.Status)
			return StudentResult{Outcome: OutcomeCreated, Record: created}, nil
		}
		if !errors.Is(cerr, ErrDuplicate) {
			return StudentResult{}, fmt.Errorf("create student record: %w", cerr)
		}
		// Lost a create race; continue as an update against the winner's row.
		logger.Debug("concurrent create detected, retrying as update")
		if rec, err = r.store.StudentRecord(ctx, st.ID, day); err != nil {
			return StudentResult{}, fmt.Errorf("reload student record: %w", err)
		}
	case err != nil:
		return StudentResult{}, fmt.Errorf("load student record: %w", err)
	}

	outcome := applyStudentScan(&rec, evt, timing)
	if outcome == OutcomeRedundant {
		r.count("student", outcome)
		logger.Info("student attendance already recorded")
		return StudentResult{Outcome: outcome, Record: rec}, nil
	}
	rec, err = r.store.UpdateStudentRecord(ctx, rec)
	if err != nil {
		return StudentResult{}, fmt.Errorf("update student record: %w", err)
	}
	r.afterStudentWrite(ctx, rec, day, evt)
	r.count("student", outcome)
	logger.Info("student attendance updated", "outcome", outcome, "status", rec.Status)
	return StudentResult{Outcome: outcome, Record: rec}, nil
}

func newStudentRecord(st Student, day civiltime.Window, evt ScanEvent, timing Timing) StudentRecord {
	scan := evt.Timestamp
	rec := StudentRecord{
		StudentID:    st.ID,
		ClassID:      st.ClassID,
		Day:          day.Start,
		Status:       StudentPresent,
		EntryTime:    &scan,
		VerifyMethod: evt.VerifyMethod,
		DeviceSerial: evt.DeviceSerial,
		IsAutomated:  true,
	}
	// A first scan inside the checkout window stands for a late arrival
	// with no morning scan; it fills both ends of the day.
	if timing.IsCheckoutWindow {
		rec.Status = StudentLate
		rec.ExitTime = &scan
	}
	return rec
}

func applyStudentScan(rec *StudentRecord, evt ScanEvent, timing Timing) Outcome {
	scan := evt.Timestamp
	switch {
	case timing.IsCheckoutWindow && rec.ExitTime == nil:
		rec.ExitTime = &scan
		rec.Notes = append(rec.Notes, "Exit recorded")
		return OutcomeExitRecorded
	case !timing.IsCheckoutWindow && rec.EntryTime == nil:
		rec.EntryTime = &scan
		rec.Status = StudentPresent
		return OutcomeEntryRecorded
	}
	return OutcomeRedundant
}

func (r *Reconciler) afterStudentWrite(ctx context.Context, rec StudentRecord, day civiltime.Window, evt ScanEvent) {
	if r.rollup != nil {
		if _, err := r.rollup.Recompute(ctx, rec.ClassID, day); err != nil {
			logging.FromContext(ctx, r.logger).Warn("class rollup failed", "class_id", rec.ClassID, "error", err)
		}
	}
	r.notify(ctx, rec.StudentID, rec.Status, evt.Timestamp)
}

// notify is detached: it never blocks the caller and its failure is only logged.
func (r *Reconciler) notify(ctx context.Context, studentID string, status StudentStatus, at time.Time) {
	if r.notifier == nil {
		return
	}
	logger := logging.FromContext(ctx, r.logger)
	detached := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		nctx, cancel := context.WithTimeout(detached, r.opts.NotifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyAttendance(nctx, studentID, status, at); err != nil {
			metrics.NotificationFailures.Inc()
			logger.Warn("attendance notification failed", "student_id", studentID, "error", err)
		}
	}()
}

// ReconcileEmployee applies one scan to an employee's record. Employees may
// accumulate many scans a day.
func (r *Reconciler) ReconcileEmployee(ctx context.Context, emp Employee, evt ScanEvent) (EmployeeResult, error) {
	logger := logging.FromContext(ctx, r.logger).With("employee_id", emp.ID, "scan", evt.Timestamp)

	cfg, err := r.settings.Current(ctx)
	if err != nil {
		return EmployeeResult{}, fmt.Errorf("load settings: %w", err)
	}
	day := r.clock.DayBounds(evt.Timestamp)
	timing := Classify(r.clock.MinuteOfDay(evt.Timestamp), cfg.Employee)

	for attempt := 1; ; attempt++ {
		res, err := r.reconcileEmployeeOnce(ctx, logger, emp, evt, day, timing)
		if !errors.Is(err, ErrConflict) || attempt == maxWriteAttempts {
			return res, err
		}
		logger.Debug("employee record changed concurrently, reapplying scan", "attempt", attempt)
	}
}

func (r *Reconciler) reconcileEmployeeOnce(ctx context.Context, logger *slog.Logger, emp Employee, evt ScanEvent, day civiltime.Window, timing Timing) (EmployeeResult, error) {
	rec, err := r.store.EmployeeRecord(ctx, emp.ID, day)
	switch {
	case errors.Is(err, ErrNotFound):
		created, cerr := r.store.CreateEmployeeRecord(ctx, newEmployeeRecord(emp, day, evt, timing))
		if cerr == nil {
			r.count("employee", OutcomeCreated)
			logger.Info("employee attendance created", "status", created.Status, "late", timing.IsLate)
			return EmployeeResult{Outcome: OutcomeCreated, Record: created}, nil
		}
		if !errors.Is(cerr, ErrDuplicate) {
			return EmployeeResult{}, fmt.Errorf("create employee record: %w", cerr)
		}
		logger.Debug("concurrent create detected, retrying as update")
		if rec, err = r.store.EmployeeRecord(ctx, emp.ID, day); err != nil {
			return EmployeeResult{}, fmt.Errorf("reload employee record: %w", err)
		}
	case err != nil:
		return EmployeeResult{}, fmt.Errorf("load employee record: %w", err)
	}

	if r.isDuplicateScan(rec, evt.Timestamp) {
		r.count("employee", OutcomeDuplicateScan)
		logger.Info("employee scan ignored, too close to previous scan")
		return EmployeeResult{Outcome: OutcomeDuplicateScan, Record: rec}, nil
	}

	outcome := applyEmployeeScan(&rec, evt, timing)
	rec, err = r.store.UpdateEmployeeRecord(ctx, rec)
	if err != nil {
		return EmployeeResult{}, fmt.Errorf("update employee record: %w", err)
	}
	r.count("employee", outcome)
	logger.Info("employee attendance updated", "outcome", outcome, "total_hours", rec.TotalHours)
	return EmployeeResult{Outcome: outcome, Record: rec}, nil
}

func newEmployeeRecord(emp Employee, day civiltime.Window, evt ScanEvent, timing Timing) EmployeeRecord {
	scan := evt.Timestamp
	rec := EmployeeRecord{
		EmployeeID:  emp.ID,
		Day:         day.Start,
		CheckInTime: &scan,
		Status:      EmployeePresent,
		Scans:       []EmployeeScan{employeeScan(evt, ScanCheckIn)},
	}
	if timing.IsCheckoutWindow {
		rec.CheckOutTime = &scan
		rec.Status = EmployeeHalfDay
		rec.Scans[0].ScanType = ScanCheckOut
	}
	rec.recomputeHours()
	return rec
}

func applyEmployeeScan(rec *EmployeeRecord, evt ScanEvent, timing Timing) Outcome {
	scan := evt.Timestamp
	switch {
	case timing.IsCheckoutWindow && rec.CheckOutTime == nil:
		rec.CheckOutTime = &scan
		rec.Scans = append(rec.Scans, employeeScan(evt, ScanCheckOut))
		rec.recomputeHours()
		return OutcomeCheckOutRecorded
	case !timing.IsCheckoutWindow && rec.CheckInTime == nil:
		rec.CheckInTime = &scan
		rec.Status = EmployeePresent
		rec.Scans = append(rec.Scans, employeeScan(evt, ScanCheckIn))
		rec.recomputeHours()
		return OutcomeCheckInRecorded
	}
	kind := ScanCheckIn
	if timing.IsCheckoutWindow {
		kind = ScanCheckOut
	}
	rec.Scans = append(rec.Scans, employeeScan(evt, kind))
	return OutcomeScanAppended
}

func employeeScan(evt ScanEvent, kind ScanType) EmployeeScan {
	return EmployeeScan{
		ScanTime:     evt.Timestamp,
		ScanType:     kind,
		VerifyMethod: evt.VerifyMethod,
		DeviceSerial: evt.DeviceSerial,
	}
}

func (r *Reconciler) isDuplicateScan(rec EmployeeRecord, at time.Time) bool {
	if r.opts.ScanDedupWindow <= 0 || len(rec.Scans) == 0 {
		return false
	}
	gap := at.Sub(rec.Scans[len(rec.Scans)-1].ScanTime)
	if gap < 0 {
		gap = -gap
	}
	return gap < r.opts.ScanDedupWindow
}

// recomputeHours keeps TotalHours equal to checkout minus checkin, in hours
// rounded to two decimals, whenever both ends are set.
func (rec *EmployeeRecord) recomputeHours() {
	if rec.CheckInTime == nil || rec.CheckOutTime == nil {
		return
	}
	hours := rec.CheckOutTime.Sub(*rec.CheckInTime).Hours()
	rec.TotalHours = math.Round(hours*100) / 100
}

func (r *Reconciler) count(kind string, outcome Outcome) {
	metrics.Reconciled.WithLabelValues(kind, string(outcome)).Inc()
}
