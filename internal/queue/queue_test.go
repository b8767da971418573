package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/attendance"
)

func sampleScan() attendance.ScanEvent {
	return attendance.ScanEvent{
		SubjectCode:  "10234",
		Timestamp:    time.Date(2025, 1, 20, 5, 55, 0, 0, time.UTC),
		VerifyMethod: attendance.VerifyFingerprint,
		DeviceSerial: "SN-1",
	}
}

func TestScanMessageRoundTrip(t *testing.T) {
	msg, err := NewScanMessage(sampleScan())
	require.NoError(t, err)
	assert.Equal(t, TypeScan, msg.Type)

	raw, err := encode(msg)
	require.NoError(t, err)
	back, err := decode(raw)
	require.NoError(t, err)

	evt, err := DecodeScan(back)
	require.NoError(t, err)
	assert.Equal(t, "10234", evt.SubjectCode)
	assert.True(t, evt.Timestamp.Equal(sampleScan().Timestamp))
	assert.Equal(t, attendance.VerifyFingerprint, evt.VerifyMethod)
}

func TestDecodeScanRejectsOtherTypes(t *testing.T) {
	_, err := DecodeScan(Message{Type: "checkin", Body: []byte("x")})
	assert.Error(t, err)

	_, err = DecodeScan(Message{Type: TypeScan, Body: []byte("{not json")})
	assert.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := decode("scan|legacy")
	assert.Error(t, err)
}

func TestInMemoryDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msg, err := NewScanMessage(sampleScan())
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, msg, got)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.Publish(ctx, Message{Type: TypeScan}), context.Canceled)
}
