package features

import "math"

// Vec2 は2次元のベクトル
type Vec2 struct {
	X, Y float64
}

// Delta は整数の相対移動量
type Delta struct {
	DX, DY int32
}

// IsZero は移動量がゼロかどうかを返す
func (d Delta) IsZero() bool {
	return d.DX == 0 && d.DY == 0
}

// TickOutput は1ティック分のフィルター出力
type TickOutput struct {
	DX, DY int32
	// 速度が閾値を下回り静止状態に戻ったかどうか
	Settled bool
}

// SmoothingConfig は減衰加速度モデルのパラメータ
type SmoothingConfig struct {
	Damper       float64
	Accelerator  float64
	VelThreshold float64
}

// MotionFilter はマウスの移動値（dx, dy）を減衰加速度モデルで滑らかにします
//
// 入力から求めた瞬間速度に向かって速度を引き寄せ、現在の速度に比例して減衰させます。
// 位置の小数部分は residual に持ち越すため、整数化による誤差は蓄積しません。
type MotionFilter struct {
	cfg      SmoothingConfig
	velocity Vec2
	residual Vec2
}

// 新しいモーションフィルターを作成します
func NewMotionFilter(cfg SmoothingConfig) *MotionFilter {
	return &MotionFilter{cfg: cfg}
}

// Tick は今回のティックで受け取った入力の合計と経過時間（秒）からフィルターを1ステップ進めます
func (mf *MotionFilter) Tick(in Delta, dt float64) TickOutput {
	if dt < 0 {
		dt = 0
	}

	mvx := finiteOrZero(float64(in.DX) / dt)
	mvy := finiteOrZero(float64(in.DY) / dt)

	ax := mvx*mf.cfg.Accelerator - mf.velocity.X*mf.cfg.Damper
	ay := mvy*mf.cfg.Accelerator - mf.velocity.Y*mf.cfg.Damper

	// オイラー積分
	mf.velocity.X += ax * dt
	mf.velocity.Y += ay * dt
	mf.residual.X += mf.velocity.X * dt
	mf.residual.Y += mf.velocity.Y * dt

	out := TickOutput{
		DX: truncate(mf.residual.X),
		DY: truncate(mf.residual.Y),
	}
	mf.residual.X -= float64(out.DX)
	mf.residual.Y -= float64(out.DY)

	if math.Abs(mf.velocity.X) < mf.cfg.VelThreshold &&
		math.Abs(mf.velocity.Y) < mf.cfg.VelThreshold {
		mf.Reset()
		out.Settled = true
	}

	return out
}

// フィルターの状態をリセットします
func (mf *MotionFilter) Reset() {
	mf.velocity = Vec2{}
	mf.residual = Vec2{}
}

// Velocity は現在の平滑化後の速度を返します
func (mf *MotionFilter) Velocity() Vec2 {
	return mf.velocity
}

// Residual はまだ出力していない小数部分の移動量を返します
func (mf *MotionFilter) Residual() Vec2 {
	return mf.residual
}

// dt == 0 のときの NaN と ±Inf をゼロとして扱う
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// truncate はゼロ方向に切り捨て、int32の範囲に収める
func truncate(v float64) int32 {
	t := math.Trunc(v)
	switch {
	case math.IsNaN(t):
		return 0
	case t > math.MaxInt32:
		return math.MaxInt32
	case t < math.MinInt32:
		return math.MinInt32
	}
	return int32(t)
}
