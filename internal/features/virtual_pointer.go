package features

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/char5742/smooth-mouse/internal/consts"
	"github.com/char5742/smooth-mouse/internal/types"
	"github.com/char5742/smooth-mouse/internal/utils"
)

// 相対座標を注入する仮想ポインターを表現するインターフェース
type Pointer interface {
	Injector
	io.Closer
}

// VirtualPointer はuinputで作成した仮想マウス
// 注入するすべてのフレームにエコー識別用のMSC_SERIALを付ける
type VirtualPointer struct {
	name       []byte
	sentinel   uint64
	deviceFile io.WriteCloser
}

// 新しい仮想ポインターデバイスを作成する
func CreateVirtualPointer(path string, name []byte, sentinel uint64) (Pointer, error) {
	fd, err := createVirtualPointer(path, name)
	if err != nil {
		return nil, err
	}

	return &VirtualPointer{name: name, sentinel: sentinel, deviceFile: fd}, nil
}

func (vp *VirtualPointer) Close() error {
	if f, ok := vp.deviceFile.(*os.File); ok {
		_ = releaseDevice(f)
	}
	return vp.deviceFile.Close()
}

// Inject は相対移動を1フレームとして書き込む。移動量がゼロの場合は何もしない
func (vp *VirtualPointer) Inject(dx, dy int32) error {
	if dx == 0 && dy == 0 {
		return nil
	}

	buf, err := encodeMotion(dx, dy, vp.sentinel)
	if err != nil {
		return err
	}
	if _, err := vp.deviceFile.Write(buf); err != nil {
		return fmt.Errorf("イベントの書き込みに失敗しました: %w", err)
	}
	return nil
}

// encodeMotion は REL_X, REL_Y, MSC_SERIAL, SYN_REPORT からなるフレームを作る
func encodeMotion(dx, dy int32, sentinel uint64) ([]byte, error) {
	events := make([]types.Event, 0, 4)
	if dx != 0 {
		events = append(events, types.NewEvent(consts.Rel, consts.RelX, dx))
	}
	if dy != 0 {
		events = append(events, types.NewEvent(consts.Rel, consts.RelY, dy))
	}
	events = append(events,
		types.NewEvent(consts.Msc, consts.MscSerial, int32(uint32(sentinel))),
		types.NewEvent(consts.Syn, consts.SynReport, 0),
	)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, events); err != nil {
		return nil, fmt.Errorf("イベントをバッファに書き込むのに失敗しました: %v", err)
	}
	return buf.Bytes(), nil
}

func createVirtualPointer(path string, name []byte) (*os.File, error) {
	deviceFile, err := createDeviceFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not create relative axis input device: %v", err)
	}

	// 相対座標イベント(EV_REL)を登録する
	if err = registerDevice(deviceFile, uintptr(consts.Rel)); err != nil {
		return nil, fmt.Errorf("相対座標イベント(EV_REL)の登録に失敗しました: %v", err)
	}
	for _, ev := range []int{consts.RelX, consts.RelY} {
		if err = utils.IOCtl(deviceFile, consts.SetRelBit, uintptr(ev)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("座標軸の登録に失敗しました %v: %v", ev, err)
		}
	}

	// ボタンを持たないデバイスはマウスとして認識されないことがあるため登録しておく
	if err = registerDevice(deviceFile, uintptr(consts.Key)); err != nil {
		return nil, fmt.Errorf("キー入力イベント(EV_KEY)の登録に失敗しました: %v", err)
	}
	for _, ev := range []int{consts.MouseBtnLeft, consts.MouseBtnRight} {
		if err = utils.IOCtl(deviceFile, consts.SetKeyBit, uintptr(ev)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("キー入力種別の登録に失敗しました %v: %v", ev, err)
		}
	}

	// エコー識別タグ用のMSC_SERIALを登録する
	if err = registerDevice(deviceFile, uintptr(consts.Msc)); err != nil {
		return nil, fmt.Errorf("MSCイベント(EV_MSC)の登録に失敗しました: %v", err)
	}
	if err = utils.IOCtl(deviceFile, consts.SetMscBit, uintptr(consts.MscSerial)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("MSC_SERIALの登録に失敗しました: %v", err)
	}

	if err := utils.IOCtl(deviceFile, consts.SetPropBit, uintptr(consts.PropPointer)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ポインターデバイスプロパティの設定に失敗しました: %v", err)
	}

	userDev := types.UserDev{
		Name: toUinputName(name),
		ID: types.InputID{
			Bustype: consts.BusVirtual,
			Vendor:  0x4711,
			Product: 0x0818,
			Version: 1,
		},
	}

	fd, err := createUinputDevice(deviceFile, userDev)
	if err != nil {
		return nil, fmt.Errorf("仮想デバイスの作成に失敗しました: %v", err)
	}

	return fd, nil
}

// デバイスファイルを作成する
func createDeviceFile(path string) (fd *os.File, err error) {
	deviceFile, err := os.OpenFile(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, errors.Join(errors.New("デバイスファイルを開くのに失敗しました"), err)
	}
	return deviceFile, nil
}

// デバイスを解放する
func releaseDevice(deviceFile *os.File) error {
	return utils.IOCtl(deviceFile, consts.DevDestroy, uintptr(0))
}

// デバイスを登録する
func registerDevice(deviceFile *os.File, evType uintptr) error {
	err := utils.IOCtl(deviceFile, consts.SetEvBit, evType)
	if err != nil {
		defer deviceFile.Close()
		if rerr := releaseDevice(deviceFile); rerr != nil {
			return fmt.Errorf("デバイスを解放するのに失敗しました: %v", rerr)
		}
		return fmt.Errorf("無効なファイルハンドルがutils.IOCtlから返されました: %v", err)
	}
	return nil
}

// uinputデバイスを作成する
func createUinputDevice(deviceFile *os.File, dev types.UserDev) (fd *os.File, err error) {
	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.LittleEndian, dev)
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ユーザーデバイスバッファの書き込みに失敗しました: %v", err)
	}
	_, err = deviceFile.Write(buf.Bytes())
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイス構造体をデバイスファイルに書き込むのに失敗しました: %v", err)
	}

	err = utils.IOCtl(deviceFile, consts.DevCreate, uintptr(0))
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイスの作成に失敗しました: %v", err)
	}

	return deviceFile, err
}

// 名前をuinput用の固定長配列に変換する
func toUinputName(name []byte) (uinputName [consts.MaxNameSize]byte) {
	var fixedSizeName [consts.MaxNameSize]byte
	copy(fixedSizeName[:], name)
	return fixedSizeName
}
