package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"schoolattend/internal/civiltime"
	"schoolattend/internal/logging"
	"schoolattend/internal/settings"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []StudentStatus
	err   error
}

func (n *recordingNotifier) NotifyAttendance(ctx context.Context, studentID string, status StudentStatus, at time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, status)
	return n.err
}

func (n *recordingNotifier) statuses() []StudentStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]StudentStatus(nil), n.calls...)
}

type fixture struct {
	store      *MemoryStore
	settings   *settings.Service
	clock      *civiltime.Normalizer
	rollup     *Rollup
	notifier   *recordingNotifier
	reconciler *Reconciler
}

// fixedNow is 2025-01-20 16:00 in Cairo.
var fixedNow = time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock, err := civiltime.Load(civiltime.DefaultZone, func() time.Time { return fixedNow })
	require.NoError(t, err)

	f := &fixture{
		store:    NewMemoryStore(),
		clock:    clock,
		notifier: &recordingNotifier{},
	}
	f.settings = settings.NewService(settings.NewMemoryStore(), logging.Discard())
	f.rollup = NewRollup(f.store, f.settings, clock)
	f.reconciler = NewReconciler(f.store, f.settings, clock, f.rollup, f.notifier, logging.Discard(), opts)
	return f
}

func (f *fixture) scan(t *testing.T, code, raw string) ScanEvent {
	t.Helper()
	ts, ok := f.clock.Parse(raw)
	require.True(t, ok, raw)
	return ScanEvent{SubjectCode: code, Timestamp: ts, VerifyMethod: VerifyFaceRecognition, DeviceSerial: "SN-1"}
}

func (f *fixture) day(t *testing.T, date string) civiltime.Window {
	t.Helper()
	w, err := f.clock.ParseDay(date)
	require.NoError(t, err)
	return w
}

type failingSettings struct{}

func (failingSettings) Current(context.Context) (settings.Settings, error) {
	return settings.Settings{}, errors.New("db down")
}
