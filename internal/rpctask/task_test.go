package rpctask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTaskRunsToFinishedAndReportsProgress(t *testing.T) {
	m := NewManager[string, int]()
	id := m.Init(context.Background(), func(ctx context.Context, h *Handle[string, int]) (int, error) {
		h.ReportProgress("halfway")
		return 42, nil
	})

	require.Eventually(t, func() bool {
		report, err := m.Status(id)
		return err == nil && report.Status == StatusFinished
	}, time.Second, time.Millisecond)

	report, err := m.Status(id)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, report.Status)
	require.Equal(t, 42, report.Result)
}

func TestTaskUserActionRoundTrip(t *testing.T) {
	m := NewManager[string, string]()
	id := m.Init(context.Background(), func(ctx context.Context, h *Handle[string, string]) (string, error) {
		action, err := h.AwaitUserAction(ctx, "confirm on device")
		if err != nil {
			return "", err
		}
		return "got:" + action.(string), nil
	})

	require.Eventually(t, func() bool {
		report, err := m.Status(id)
		return err == nil && report.Status == StatusUserActionRequired
	}, time.Second, time.Millisecond)

	require.NoError(t, m.UserAction(id, "pin-1234"))

	require.Eventually(t, func() bool {
		report, err := m.Status(id)
		return err == nil && report.Status == StatusFinished
	}, time.Second, time.Millisecond)

	report, _ := m.Status(id)
	require.Equal(t, "got:pin-1234", report.Result)
}

func TestTaskFailurePropagatesError(t *testing.T) {
	m := NewManager[string, int]()
	wantErr := errors.New("hw_device_disconnected")
	id := m.Init(context.Background(), func(ctx context.Context, h *Handle[string, int]) (int, error) {
		return 0, wantErr
	})

	require.Eventually(t, func() bool {
		report, err := m.Status(id)
		return err == nil && report.Status == StatusFailed
	}, time.Second, time.Millisecond)

	report, _ := m.Status(id)
	require.Equal(t, wantErr, report.Err)
}

func TestCancelSignalsCooperativelyAndReachesCancelled(t *testing.T) {
	m := NewManager[string, int]()
	started := make(chan struct{})
	id := m.Init(context.Background(), func(ctx context.Context, h *Handle[string, int]) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	<-started
	require.NoError(t, m.Cancel(id))

	require.Eventually(t, func() bool {
		report, err := m.Status(id)
		return err == nil && report.Status == StatusCancelled
	}, time.Second, time.Millisecond)
}

func TestStatusOfUnknownTaskErrors(t *testing.T) {
	m := NewManager[string, int]()
	_, err := m.Status(uuid.New())
	require.Error(t, err)
}
