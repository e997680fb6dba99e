package features

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock は呼び出されるたびに step だけ進む時計
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type chanSource struct {
	ch chan RawDelta
}

func (s *chanSource) Events() <-chan RawDelta { return s.ch }

type recordingInjector struct {
	mu    sync.Mutex
	moves []Delta
	err   error
}

func (r *recordingInjector) Inject(dx, dy int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, Delta{DX: dx, DY: dy})
	return r.err
}

func (r *recordingInjector) Moves() []Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delta(nil), r.moves...)
}

func newTestLoop(src *chanSource, inj Injector) *Loop {
	return NewLoop(src, inj, LoopOptions{
		Smoothing: defaultSmoothing,
		Sentinel:  EchoSentinel,
		Clock:     &stepClock{now: time.Unix(0, 0), step: 100 * time.Millisecond},
	})
}

func runLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return cancel, done
}

func waitSettled(t *testing.T, l *Loop, ticks uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.Stats().Ticks == ticks && l.State() == StateWaiting
	}, 2*time.Second, time.Millisecond)
}

func TestLoopSmoothsAndSettles(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta, 1)}
	inj := &recordingInjector{}
	l := newTestLoop(src, inj)
	cancel, done := runLoop(t, l)

	src.ch <- RawDelta{DX: 100}
	// 入力1回 + 減衰10回で静止する
	waitSettled(t, l, 11)

	moves := inj.Moves()
	require.NotEmpty(t, moves)
	assert.Equal(t, Delta{DX: 50}, moves[0])

	var sum int32
	for _, m := range moves {
		assert.Positive(t, m.DX)
		assert.Zero(t, m.DY)
		sum += m.DX
	}
	assert.Equal(t, int32(99), sum)

	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.Events)
	assert.Equal(t, uint64(len(moves)), stats.Injected)
	assert.Zero(t, stats.EchoesDropped)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, StateQuit, l.State())
}

func TestLoopIgnoresEcho(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta, 1)}
	inj := &recordingInjector{}
	l := newTestLoop(src, inj)
	cancel, done := runLoop(t, l)
	defer func() {
		cancel()
		<-done
	}()

	src.ch <- RawDelta{DX: 1000, DY: 1000, Tag: EchoSentinel}
	waitSettled(t, l, 1)

	assert.Empty(t, inj.Moves())
	assert.Equal(t, uint64(1), l.Stats().EchoesDropped)
}

func TestLoopResumesAfterSettling(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta, 1)}
	inj := &recordingInjector{}
	l := newTestLoop(src, inj)
	cancel, done := runLoop(t, l)
	defer func() {
		cancel()
		<-done
	}()

	src.ch <- RawDelta{DX: 100}
	waitSettled(t, l, 11)
	first := len(inj.Moves())

	src.ch <- RawDelta{DY: -100}
	waitSettled(t, l, 22)

	moves := inj.Moves()[first:]
	require.NotEmpty(t, moves)
	assert.Equal(t, Delta{DY: -50}, moves[0])
}

func TestLoopInjectionFailureIsNotFatal(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta, 1)}
	inj := &recordingInjector{err: errors.New("uinput busy")}
	l := newTestLoop(src, inj)
	cancel, done := runLoop(t, l)
	defer func() {
		cancel()
		<-done
	}()

	src.ch <- RawDelta{DX: 100}
	waitSettled(t, l, 11)

	stats := l.Stats()
	assert.Zero(t, stats.Injected)
	assert.Equal(t, uint64(len(inj.Moves())), stats.InjectFailures)
	assert.Positive(t, stats.InjectFailures)
}

func TestLoopQuitsWhenSourceCloses(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta)}
	l := newTestLoop(src, &recordingInjector{})
	_, done := runLoop(t, l)

	close(src.ch)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, StateQuit, l.State())
}

func TestLoopQuitsWhileWaiting(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta)}
	l := newTestLoop(src, &recordingInjector{})
	cancel, done := runLoop(t, l)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Zero(t, l.Stats().Ticks, "no tick while waiting")
}

func TestLoopIdleIntervalKeepsTicking(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta, 1)}
	inj := &recordingInjector{}
	l := NewLoop(src, inj, LoopOptions{
		Smoothing:    defaultSmoothing,
		Sentinel:     EchoSentinel,
		IdleInterval: time.Millisecond,
		Clock:        &stepClock{now: time.Unix(0, 0), step: 100 * time.Millisecond},
	})
	cancel, done := runLoop(t, l)
	defer func() {
		cancel()
		<-done
	}()

	src.ch <- RawDelta{DX: 100}
	waitSettled(t, l, 11)

	var sum int32
	for _, m := range inj.Moves() {
		sum += m.DX
	}
	assert.Equal(t, int32(99), sum)
}

func TestLoopPassthroughInjectsCorrectionOnly(t *testing.T) {
	src := &chanSource{ch: make(chan RawDelta, 1)}
	inj := &recordingInjector{}
	l := NewLoop(src, inj, LoopOptions{
		Smoothing:   defaultSmoothing,
		Sentinel:    EchoSentinel,
		Passthrough: true,
		Clock:       &stepClock{now: time.Unix(0, 0), step: 100 * time.Millisecond},
	})
	cancel, done := runLoop(t, l)
	defer func() {
		cancel()
		<-done
	}()

	raw := RawDelta{DX: 100}
	src.ch <- raw
	waitSettled(t, l, 11)

	moves := inj.Moves()
	require.NotEmpty(t, moves)
	// 生の100は既にカーソルに届いているので、1ティック目は 50-100 を注入する
	assert.Equal(t, Delta{DX: -50}, moves[0])

	var injected int32
	for _, m := range moves {
		assert.Zero(t, m.DY)
		injected += m.DX
	}
	// 生の入力と注入量の合計が平滑化した出力の合計に一致する
	assert.Equal(t, int32(99), raw.DX+injected)
}

func TestLoopQuitsWhileDraining(t *testing.T) {
	cases := []struct {
		name    string
		quit    func(cancel context.CancelFunc, src *chanSource)
		wantErr error
	}{
		{
			name:    "context cancelled",
			quit:    func(cancel context.CancelFunc, _ *chanSource) { cancel() },
			wantErr: nil,
		},
		{
			name:    "source closed",
			quit:    func(_ context.CancelFunc, src *chanSource) { close(src.ch) },
			wantErr: ErrSourceClosed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &chanSource{ch: make(chan RawDelta, 1)}
			l := NewLoop(src, &recordingInjector{}, LoopOptions{
				Smoothing: defaultSmoothing,
				Sentinel:  EchoSentinel,
				// 減衰中はpollで待機させる
				IdleInterval: time.Hour,
				Clock:        &stepClock{now: time.Unix(0, 0), step: 100 * time.Millisecond},
			})
			cancel, done := runLoop(t, l)
			defer cancel()

			src.ch <- RawDelta{DX: 100}
			require.Eventually(t, func() bool {
				return l.Stats().Ticks == 1 && l.State() == StateDraining
			}, 2*time.Second, time.Millisecond)

			tc.quit(cancel, src)
			select {
			case err := <-done:
				if tc.wantErr == nil {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, tc.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("loop did not stop")
			}
			assert.Equal(t, StateQuit, l.State())
			assert.Less(t, l.Stats().Ticks, uint64(11), "quit before settling")
		})
	}
}

func TestLoopStateString(t *testing.T) {
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "quit", StateQuit.String())
	assert.Equal(t, "unknown", LoopState(42).String())
}
