package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestMemoryStoreCreatesDefaultsOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15*60, first.Student.Checkout())
	assert.Equal(t, 8*60+15, first.Employee.Late())
	assert.Equal(t, 1, first.AbsenceMarkingDelayMinutes)

	second, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestServiceUpdateAppliesPatchAndRunsHooks(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	ctx := context.Background()

	var seen []Settings
	svc.OnChange(func(_ context.Context, s Settings) { seen = append(seen, s) })

	updated, err := svc.Update(ctx, Patch{
		Student:                    &ThresholdsPatch{CheckoutThresholdHour: intp(14), CheckoutThresholdMinute: intp(30)},
		AbsenceMarkingDelayMinutes: intp(5),
	})
	require.NoError(t, err)

	assert.Equal(t, 14*60+30, updated.Student.Checkout())
	assert.Equal(t, 15*60, updated.Student.Late(), "untouched fields keep their values")
	assert.Equal(t, 5, updated.AbsenceMarkingDelayMinutes)
	require.Len(t, seen, 1)
	assert.Equal(t, updated, seen[0])

	cur, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, cur, "next read sees the change")
}

func TestServiceUpdateRejectsOutOfRange(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	hookCalled := false
	svc.OnChange(func(context.Context, Settings) { hookCalled = true })

	_, err := svc.Update(context.Background(), Patch{Employee: &ThresholdsPatch{LateThresholdMinute: intp(75)}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.False(t, hookCalled)
}
