package types

import "syscall"

// Event は入力イベントを表す構造体
type Event struct {
	Time  syscall.Timeval // イベント発生時刻
	Type  uint16          // イベントタイプ
	Code  uint16          // イベントコード
	Value int32           // イベント値
}

// NewEvent は時刻を空にした入力イベントを作成する（時刻はカーネルが設定する）
func NewEvent(typ, code uint16, value int32) Event {
	return Event{Type: typ, Code: code, Value: value}
}
