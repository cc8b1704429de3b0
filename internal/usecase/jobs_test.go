package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
)

func TestSubmitJob_Succeeds(t *testing.T) {
	reg := NewJobRegistry(time.Hour)
	j := SubmitJob(reg, "sum", time.Second, func(context.Context) (int, error) { return 42, nil })

	v, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	snap, ok := reg.Get(j.ID())
	require.True(t, ok)
	assert.Equal(t, JobSucceeded, snap.Status)
	assert.Equal(t, 42, snap.Result)
	assert.NotNil(t, snap.FinishedAt)
}

func TestSubmitJob_Failure(t *testing.T) {
	reg := NewJobRegistry(time.Hour)
	j := SubmitJob(reg, "var", time.Second, func(context.Context) (int, error) {
		return 0, models.ErrInsufficientData
	})

	_, err := j.Wait(context.Background())
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	snap := j.Snapshot()
	assert.Equal(t, JobFailed, snap.Status)
	assert.Equal(t, "insufficient_data", snap.ErrorKind)
}

func TestSubmitJob_TimeoutAbandonsWork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	j := SubmitJob(NewJobRegistry(0), "slow", 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	_, err := j.Wait(context.Background())
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Equal(t, JobFailed, j.Snapshot().Status)
	assert.Equal(t, "timeout", j.Snapshot().ErrorKind)
}

func TestSubmitJob_Cancel(t *testing.T) {
	reg := NewJobRegistry(time.Hour)
	j := SubmitJob(reg, "mc", time.Minute, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	require.True(t, reg.Cancel(j.ID()))
	_, err := j.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, JobCancelled, j.Snapshot().Status)
	assert.False(t, reg.Cancel("unknown"))
}

func TestSubmitJob_CancelAfterFinishIsNoop(t *testing.T) {
	j := SubmitJob(NewJobRegistry(0), "fast", time.Second, func(context.Context) (string, error) { return "ok", nil })
	_, err := j.Wait(context.Background())
	require.NoError(t, err)

	j.Cancel()
	assert.Equal(t, JobSucceeded, j.Snapshot().Status)
}

func TestSubmitJob_PanicFailsJob(t *testing.T) {
	j := SubmitJob(NewJobRegistry(0), "boom", time.Second, func(context.Context) (int, error) {
		panic("boom")
	})

	_, err := j.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestJob_WaitHonoursCallerDeadline(t *testing.T) {
	release := make(chan struct{})
	j := SubmitJob(NewJobRegistry(0), "slow", time.Minute, func(context.Context) (int, error) {
		<-release
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := j.Wait(ctx)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Equal(t, JobRunning, j.Snapshot().Status, "giving up on Wait leaves the job running")

	close(release)
	v, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestJobRegistry_ListNewestFirst(t *testing.T) {
	reg := NewJobRegistry(time.Hour)
	first := SubmitJob(reg, "a", time.Second, func(context.Context) (int, error) { return 1, nil })
	time.Sleep(2 * time.Millisecond)
	second := SubmitJob(reg, "b", time.Second, func(context.Context) (int, error) { return 0, errors.New("nope") })
	<-first.Done()
	<-second.Done()

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID(), list[0].ID)
	assert.Equal(t, first.ID(), list[1].ID)
}
