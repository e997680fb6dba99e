package features

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrSourceClosed は入力元のチャネルが閉じられたことを表す
var ErrSourceClosed = errors.New("raw input source closed")

// Clock は単調増加する現在時刻を返す
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock はtime.Nowを使うClock
var SystemClock Clock = systemClock{}

// RawSource は生の相対移動イベントを届ける
// チャネルが閉じられた場合は終了シグナルとして扱う
type RawSource interface {
	Events() <-chan RawDelta
}

// Injector は平滑化した移動量をOSに注入する
type Injector interface {
	Inject(dx, dy int32) error
}

// LoopState はイベントループの状態
type LoopState int32

const (
	StateWaiting LoopState = iota
	StateDraining
	StateQuit
)

func (s LoopState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	case StateQuit:
		return "quit"
	}
	return "unknown"
}

// LoopStats はイベントループの統計情報
type LoopStats struct {
	Events         uint64 `json:"events"`
	EchoesDropped  uint64 `json:"echoes_dropped"`
	Ticks          uint64 `json:"ticks"`
	Injected       uint64 `json:"injected"`
	InjectFailures uint64 `json:"inject_failures"`
}

// LoopOptions はイベントループの設定
type LoopOptions struct {
	Smoothing   SmoothingConfig
	Sentinel    uint64
	ResetOnEcho bool
	// Passthrough は入力デバイスを専有していない場合に true にする
	// 生の移動はそのままカーソルに届くため、平滑化した出力との差分だけを注入する
	Passthrough bool
	// 減衰中、入力が無いときに次のイベントを待つ最大時間
	// 待ち時間に関係なく dt は Clock から測るため、ティックの間隔は一定ではない
	IdleInterval time.Duration
	Clock        Clock
	Logger       *zap.SugaredLogger
}

// Loop は入力の取り込み、フィルターの更新、注入を1つのゴルーチンで行う
type Loop struct {
	source   RawSource
	injector Injector
	clock    Clock
	logger   *zap.SugaredLogger
	idle     time.Duration
	passthru bool

	filter *MotionFilter
	acc    *Accumulator

	state          atomic.Int32
	events         atomic.Uint64
	echoesDropped  atomic.Uint64
	ticks          atomic.Uint64
	injected       atomic.Uint64
	injectFailures atomic.Uint64
}

// NewLoop は新しいイベントループを作成する
func NewLoop(source RawSource, injector Injector, opts LoopOptions) *Loop {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loop{
		source:   source,
		injector: injector,
		clock:    clock,
		logger:   logger,
		idle:     opts.IdleInterval,
		passthru: opts.Passthrough,
		filter:   NewMotionFilter(opts.Smoothing),
		acc:      NewAccumulator(opts.Sentinel, opts.ResetOnEcho),
	}
}

// Run は終了シグナルを受け取るまでループを実行する
// ctx のキャンセルでは nil を、入力元が閉じられた場合は ErrSourceClosed を返す
func (l *Loop) Run(ctx context.Context) error {
	defer l.state.Store(int32(StateQuit))
	events := l.source.Events()

	for {
		l.state.Store(int32(StateWaiting))

		var ev RawDelta
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return ErrSourceClosed
			}
			ev = e
		}

		l.state.Store(int32(StateDraining))
		t1 := l.clock.Now()
		received := true

		for {
			if received {
				l.dispatch(ev)
			}

			t2 := l.clock.Now()
			dt := t2.Sub(t1).Seconds()
			t1 = t2

			in := l.acc.Take()
			out := l.filter.Tick(in, dt)
			l.ticks.Add(1)
			l.inject(l.correction(in, out))

			var quit bool
			ev, received, quit = l.poll(ctx, events, out.Settled)
			if quit {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSourceClosed
			}
			if !received && out.Settled {
				break
			}
		}
	}
}

// dispatch はイベントをエコー判定して取り込む
func (l *Loop) dispatch(ev RawDelta) {
	l.events.Add(1)
	if !l.acc.Handle(ev) {
		l.echoesDropped.Add(1)
	}
}

// correction はこのティックで注入すべき移動量を返す
func (l *Loop) correction(in Delta, out TickOutput) Delta {
	if !l.passthru {
		return Delta{DX: out.DX, DY: out.DY}
	}
	return Delta{DX: subSaturated(out.DX, in.DX), DY: subSaturated(out.DY, in.DY)}
}

func (l *Loop) inject(d Delta) {
	if d.IsZero() {
		return
	}
	if err := l.injector.Inject(d.DX, d.DY); err != nil {
		l.injectFailures.Add(1)
		l.logger.Debugf("移動量の注入に失敗しました (dx=%d, dy=%d): %v", d.DX, d.DY, err)
		return
	}
	l.injected.Add(1)
}

// poll は次のイベントを取り出す
// 静止していない間は最大 idle だけ待つ。静止済みならブロックしない
func (l *Loop) poll(ctx context.Context, events <-chan RawDelta, settled bool) (ev RawDelta, received bool, quit bool) {
	select {
	case <-ctx.Done():
		return ev, false, true
	case e, ok := <-events:
		if !ok {
			return ev, false, true
		}
		return e, true, false
	default:
	}

	if settled || l.idle <= 0 {
		return ev, false, false
	}

	timer := time.NewTimer(l.idle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ev, false, true
	case e, ok := <-events:
		if !ok {
			return ev, false, true
		}
		return e, true, false
	case <-timer.C:
		return ev, false, false
	}
}

// State は現在のループ状態を返す
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Stats は統計情報のスナップショットを返す
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Events:         l.events.Load(),
		EchoesDropped:  l.echoesDropped.Load(),
		Ticks:          l.ticks.Load(),
		Injected:       l.injected.Load(),
		InjectFailures: l.injectFailures.Load(),
	}
}
