package uploadclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 10 * time.Millisecond

// scriptedStatus 依次返回预设的状态序列，末尾之后重复最后一项。
type scriptedStatus struct {
	mu        sync.Mutex
	responses []*JobStatus
	errs      []error
	calls     int
	firstAt   time.Time
}

func (s *scriptedStatus) fn(ctx context.Context, jobID string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == 0 {
		s.firstAt = time.Now()
	}
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.responses[i], err
}

func (s *scriptedStatus) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPollerFirstQueryWaitsFullInterval(t *testing.T) {
	script := &scriptedStatus{responses: []*JobStatus{{Status: "completed"}}}
	poller := NewPoller(script.fn, PollerConfig{Interval: testInterval})

	start := time.Now()
	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
	assert.GreaterOrEqual(t, script.firstAt.Sub(start), testInterval)
}

func TestPollerStopsOnCompleted(t *testing.T) {
	script := &scriptedStatus{responses: []*JobStatus{
		{Status: "processing", FilesDone: 5, FilesTotal: 10},
		{Status: "completed"},
	}}

	var seen []*JobStatus
	finishes := 0
	poller := NewPoller(script.fn, PollerConfig{
		Interval: testInterval,
		OnStatus: func(s *JobStatus) { seen = append(seen, s) },
		OnFinish: func(s PollState) { finishes++ },
	})

	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, StateCompleted, poller.State())

	// 终态之后不再有任何查询
	calls := script.callCount()
	time.Sleep(3 * testInterval)
	assert.Equal(t, calls, script.callCount())

	require.Len(t, seen, 2)
	assert.Equal(t, 5, seen[0].FilesDone)
	assert.Equal(t, 1, finishes, "OnFinish 只触发一次")
}

func TestPollerQueryErrorIsRetryableMiss(t *testing.T) {
	script := &scriptedStatus{
		responses: []*JobStatus{nil, nil, {Status: "completed"}},
		errs:      []error{errors.New("boom"), errors.New("boom")},
	}

	var seen int
	poller := NewPoller(script.fn, PollerConfig{
		Interval: testInterval,
		OnStatus: func(*JobStatus) { seen++ },
	})

	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, 3, script.callCount())
	assert.Equal(t, 1, seen, "失败的查询不触发 OnStatus")
}

func TestPollerAbandonsAfterBudget(t *testing.T) {
	script := &scriptedStatus{responses: []*JobStatus{{Status: "processing"}}}

	finishes := 0
	var finalState PollState
	poller := NewPoller(script.fn, PollerConfig{
		Interval: testInterval,
		MaxPolls: 5,
		OnFinish: func(s PollState) {
			finishes++
			finalState = s
		},
	})

	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, state)
	assert.Equal(t, 5, script.callCount())
	assert.Equal(t, 1, finishes)
	assert.Equal(t, StateAbandoned, finalState)

	// 预算耗尽后定时器已停止，不再发出查询
	time.Sleep(3 * testInterval)
	assert.Equal(t, 5, script.callCount())
}

func TestPollerErrorsCountAgainstBudget(t *testing.T) {
	script := &scriptedStatus{
		responses: []*JobStatus{nil},
		errs:      []error{errors.New("boom")},
	}
	poller := NewPoller(script.fn, PollerConfig{Interval: testInterval, MaxPolls: 4})

	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, state)
	assert.Equal(t, 4, script.callCount())
}

func TestPollerFailedIsTerminalByDefault(t *testing.T) {
	script := &scriptedStatus{responses: []*JobStatus{{Status: "failed", Message: "处理失败"}}}

	finishes := 0
	poller := NewPoller(script.fn, PollerConfig{
		Interval: testInterval,
		OnFinish: func(PollState) { finishes++ },
	})

	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, 1, script.callCount())
	assert.Equal(t, 1, finishes)
}

func TestPollerTerminalSetIsConfigurable(t *testing.T) {
	// 只把 completed 当终态，failed 继续轮询直到预算耗尽
	script := &scriptedStatus{responses: []*JobStatus{{Status: "failed"}}}
	poller := NewPoller(script.fn, PollerConfig{
		Interval:         testInterval,
		MaxPolls:         3,
		TerminalStatuses: map[string]PollState{"completed": StateCompleted},
	})

	state, err := poller.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, state)
	assert.Equal(t, 3, script.callCount())
}

func TestPollerStopCancelsPendingWork(t *testing.T) {
	script := &scriptedStatus{responses: []*JobStatus{{Status: "processing"}}}

	finishes := 0
	poller := NewPoller(script.fn, PollerConfig{
		Interval: testInterval,
		OnFinish: func(PollState) { finishes++ },
	})

	poller.Start("job-1")
	time.Sleep(3 * testInterval)
	poller.Stop()

	calls := script.callCount()
	assert.Greater(t, calls, 0)

	// 取消后不再有查询，也不触发 OnFinish
	time.Sleep(3 * testInterval)
	assert.Equal(t, calls, script.callCount())
	assert.Equal(t, 0, finishes)
	assert.Equal(t, StateIdle, poller.State())
}

func TestPollerRunCancelledContext(t *testing.T) {
	script := &scriptedStatus{responses: []*JobStatus{{Status: "processing"}}}
	poller := NewPoller(script.fn, PollerConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	state, err := poller.Run(ctx, "job-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, 0, script.callCount(), "取消后不发出任何查询")
}
