package features

import (
	"fmt"
	"sync"

	evdev "github.com/gvalkov/golang-evdev"
	"go.uber.org/zap"

	"github.com/char5742/smooth-mouse/internal/consts"
	"github.com/char5742/smooth-mouse/internal/utils"
)

// マウス入力を扱うインターフェース
type Mouse interface {
	RawSource
	// マウス操作を専有する
	Grab() error
	// マウス操作の専有を解除する
	Release() error
	// デバイスが報告する名前
	Name() string
	Close() error
}

// EvdevMouse はevdevデバイスから相対移動を読み取り、フレーム単位でチャネルに送る
type EvdevMouse struct {
	dev     *evdev.InputDevice
	events  chan RawDelta
	done    chan struct{}
	once    sync.Once
	logger  *zap.SugaredLogger
	grabbed bool
}

// 指定されたパスでマウスを開き、読み取りを開始する
func CreateMouse(path string, logger *zap.SugaredLogger) (Mouse, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device file: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &EvdevMouse{
		dev:    dev,
		events: make(chan RawDelta, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go m.readLoop()
	return m, nil
}

// Events は入力フレームのチャネルを返す。デバイスの読み取りに失敗すると閉じられる
func (m *EvdevMouse) Events() <-chan RawDelta {
	return m.events
}

func (m *EvdevMouse) readLoop() {
	defer close(m.events)

	var dec frameDecoder
	for {
		evs, err := m.dev.Read()
		if err != nil {
			select {
			case <-m.done:
			default:
				m.logger.Warnf("デバイスの読み取りに失敗しました: %v", err)
			}
			return
		}
		for _, ev := range evs {
			delta, ok := dec.Feed(ev.Type, ev.Code, ev.Value)
			if !ok {
				continue
			}
			select {
			case m.events <- delta:
			case <-m.done:
				return
			}
		}
	}
}

func (m *EvdevMouse) Grab() error {
	if m.grabbed {
		return nil
	}
	if err := utils.IOCtl(m.dev.File, consts.EVIOCGRAB, 1); err != nil {
		return fmt.Errorf("failed to grab device: %w", err)
	}
	m.grabbed = true
	return nil
}

func (m *EvdevMouse) Release() error {
	if !m.grabbed {
		return nil
	}
	if err := utils.IOCtl(m.dev.File, consts.EVIOCGRAB, 0); err != nil {
		return fmt.Errorf("failed to release device: %w", err)
	}
	m.grabbed = false
	return nil
}

func (m *EvdevMouse) Name() string {
	return m.dev.Name
}

// Close は専有を解除してデバイスを閉じる。読み取りゴルーチンも終了する
func (m *EvdevMouse) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		_ = m.Release()
		err = m.dev.File.Close()
	})
	return err
}

// frameDecoder はSYN_REPORTで区切られたイベント列を1つのRawDeltaにまとめる
type frameDecoder struct {
	frame   RawDelta
	dropped bool
}

// Feed はイベントを1つ取り込み、フレームが完成して移動量があれば返す
func (d *frameDecoder) Feed(typ, code uint16, value int32) (RawDelta, bool) {
	switch typ {
	case consts.Rel:
		switch code {
		case consts.RelX:
			d.frame.DX = addSaturated(d.frame.DX, value)
		case consts.RelY:
			d.frame.DY = addSaturated(d.frame.DY, value)
		}
	case consts.Msc:
		if code == consts.MscSerial {
			d.frame.Tag = uint64(uint32(value))
		}
	case consts.Syn:
		switch code {
		case consts.SynDropped:
			// 次のSYN_REPORTまでのイベントは欠落しているため破棄する
			d.frame = RawDelta{}
			d.dropped = true
		case consts.SynReport:
			frame := d.frame
			dropped := d.dropped
			d.frame = RawDelta{}
			d.dropped = false
			if dropped || (frame.DX == 0 && frame.DY == 0) {
				return RawDelta{}, false
			}
			return frame, true
		}
	}
	return RawDelta{}, false
}
