package features

import (
	"math"

	"github.com/char5742/smooth-mouse/internal/config"
)

// EchoSentinel は仮想ポインターが注入したイベントに付けるタグ
// 実デバイスのドライバがMSC_SERIALにこの値を出すことはない前提
const EchoSentinel = config.DefaultEchoSentinel

// RawDelta はデバイスから届いた1フレーム分の相対移動量
// Tag はフレームに含まれていたMSC_SERIALの値（無ければ0）
type RawDelta struct {
	DX, DY int32
	Tag    uint64
}

// Accumulator は次のティックまでに届いた入力を合計する
// 自分が注入したイベント（エコー）は合計に含めない
type Accumulator struct {
	sentinel    uint64
	resetOnEcho bool
	pending     Delta
}

// NewAccumulator は新しいAccumulatorを作成する
// resetOnEcho が true の場合、エコーを受け取った時点で未処理の入力も破棄する
func NewAccumulator(sentinel uint64, resetOnEcho bool) *Accumulator {
	return &Accumulator{sentinel: sentinel, resetOnEcho: resetOnEcho}
}

// IsEcho はイベントが自分の出力かどうかを返す
func (a *Accumulator) IsEcho(ev RawDelta) bool {
	return ev.Tag == a.sentinel
}

// Handle はイベントを取り込み、合計に加えた場合は true を返す
func (a *Accumulator) Handle(ev RawDelta) bool {
	if a.IsEcho(ev) {
		if a.resetOnEcho {
			a.pending = Delta{}
		}
		return false
	}
	a.pending.DX = addSaturated(a.pending.DX, ev.DX)
	a.pending.DY = addSaturated(a.pending.DY, ev.DY)
	return true
}

// Pending は現在の合計を返す
func (a *Accumulator) Pending() Delta {
	return a.pending
}

// Take は合計を返してゼロに戻す
func (a *Accumulator) Take() Delta {
	d := a.pending
	a.pending = Delta{}
	return d
}

func addSaturated(a, b int32) int32 {
	return clampInt32(int64(a) + int64(b))
}

func clampInt32(s int64) int32 {
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	if s < math.MinInt32 {
		return math.MinInt32
	}
	return int32(s)
}

func subSaturated(a, b int32) int32 {
	return clampInt32(int64(a) - int64(b))
}
