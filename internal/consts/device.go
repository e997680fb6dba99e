package consts

// UIInput デバイスの定数（uinput.hから）
const (
	MaxNameSize = 80         // デバイス名の最大サイズ
	DevCreate   = 0x5501     // デバイス作成用のIOCTL
	DevDestroy  = 0x5502     // デバイス破棄用のIOCTL
	SetEvBit    = 0x40045564 // イベントビット設定用のIOCTL
	SetKeyBit   = 0x40045565 // キービット設定用のIOCTL
	SetRelBit   = 0x40045566 // 相対座標ビット設定用のIOCTL
	SetMscBit   = 0x40045568 // MSCビット設定用のIOCTL
	SetPropBit  = 0x4004556e // プロパティビット設定用のIOCTL
	BusVirtual  = 0x06       // 仮想バスタイプ
)

// その他のデバイス制御用定数
const (
	AbsSize     = 64         // 絶対座標の配列サイズ
	EVIOCGRAB   = 0x40044590 // デバイスの排他制御用のIOCTL
	PropPointer = 0x00       // ポインターデバイスプロパティ
)

// イベントタイプの定数（input-event-codes.hより）
const (
	Syn  = 0x00 // 同期イベント
	Key  = 0x01 // キーイベント
	Rel  = 0x02 // 相対座標イベント
	Msc  = 0x04 // その他のイベント
	RelX = 0x0  // X軸の相対移動
	RelY = 0x1  // Y軸の相対移動

	MscSerial = 0x00 // シリアル値（エコー識別タグに使用）

	SynReport  = 0 // イベント報告の同期
	SynDropped = 3 // バッファ溢れによるイベント欠落

	MouseBtnLeft  = 0x110 // マウス左ボタン
	MouseBtnRight = 0x111 // マウス右ボタン
)
