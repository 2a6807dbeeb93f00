package uploadclient

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultPollInterval 是两次状态查询之间的固定间隔。
	DefaultPollInterval = 2 * time.Second

	// DefaultPollBudget 是放弃前的最大查询次数（15 分钟 / 2 秒）。
	DefaultPollBudget = 450
)

// PollState 是轮询器的状态。
type PollState int

const (
	StateIdle PollState = iota
	StatePolling
	StateCompleted
	StateFailed
	StateAbandoned
)

func (s PollState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// StatusFunc 查询一次任务状态。
type StatusFunc func(ctx context.Context, jobID string) (*JobStatus, error)

// PollerConfig 是轮询器的配置项。
type PollerConfig struct {
	// Interval 是查询间隔，0 表示使用 DefaultPollInterval。
	Interval time.Duration
	// MaxPolls 是查询预算，0 表示使用 DefaultPollBudget。
	MaxPolls int
	// TerminalStatuses 把服务端状态值映射为终态。
	// 为 nil 时使用默认映射：completed → StateCompleted，failed → StateFailed。
	TerminalStatuses map[string]PollState
	// OnStatus 在每次成功查询后被调用，查询失败（可重试的 miss）不会触发。
	OnStatus func(*JobStatus)
	// OnFinish 在进入终态（Completed/Failed/Abandoned）时恰好被调用一次，
	// 调用方通常在这里刷新文件列表。取消不会触发 OnFinish。
	OnFinish func(PollState)
}

// Poller 按固定间隔串行轮询任务状态，直到观察到终态或耗尽查询预算。
// 第一次查询也要等满一个间隔才发出；任意时刻最多只有一个查询在途。
// 查询失败与非终态结果同样计入预算，均不致命。
type Poller struct {
	status   StatusFunc
	interval time.Duration
	maxPolls int
	terminal map[string]PollState
	onStatus func(*JobStatus)
	onFinish func(PollState)

	mu     sync.Mutex
	state  PollState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller 创建一个轮询器。
func NewPoller(status StatusFunc, cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultPollBudget
	}
	terminal := cfg.TerminalStatuses
	if terminal == nil {
		terminal = map[string]PollState{
			"completed": StateCompleted,
			"failed":    StateFailed,
		}
	}
	return &Poller{
		status:   status,
		interval: interval,
		maxPolls: maxPolls,
		terminal: terminal,
		onStatus: cfg.OnStatus,
		onFinish: cfg.OnFinish,
		state:    StateIdle,
	}
}

// State 返回轮询器当前状态。
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run 同步轮询直到终态、预算耗尽或 ctx 取消。
// 返回最终状态；被取消时返回 StateIdle 和 ctx 的错误，且不触发 OnFinish。
func (p *Poller) Run(ctx context.Context, jobID string) (PollState, error) {
	p.setState(StatePolling)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for polls := 0; polls < p.maxPolls; polls++ {
		select {
		case <-ctx.Done():
			p.setState(StateIdle)
			return StateIdle, ctx.Err()
		case <-timer.C:
		}

		status, err := p.status(ctx, jobID)
		if err == nil {
			if p.onStatus != nil {
				p.onStatus(status)
			}
			if final, ok := p.terminal[status.Status]; ok {
				p.finish(final)
				return final, nil
			}
		} else if ctx.Err() != nil {
			p.setState(StateIdle)
			return StateIdle, ctx.Err()
		}
		// 查询失败视为一次可重试的 miss，与非终态结果同样消耗预算

		timer.Reset(p.interval)
	}

	p.finish(StateAbandoned)
	return StateAbandoned, nil
}

// Start 在后台 goroutine 中运行 Run。取消责任由轮询器自己持有：
// 调用 Stop 会取消挂起的定时器和在途查询，之后不再发出任何查询。
func (p *Poller) Start(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.Run(ctx, jobID)
	}()
}

// Stop 取消后台轮询并等待其退出。对未启动或已结束的轮询器调用是无害的。
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) setState(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Poller) finish(s PollState) {
	p.setState(s)
	if p.onFinish != nil {
		p.onFinish(s)
	}
}
