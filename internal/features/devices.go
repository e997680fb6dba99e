package features

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoMouse はマウスデバイスが見つからなかったことを表す
var ErrNoMouse = errors.New("マウスデバイスが見つかりませんでした")

// ErrOwnPointer は入力元として自分の仮想ポインターが選ばれたことを表す
var ErrOwnPointer = errors.New("仮想ポインター自身は入力元にできません")

// byIDDir は永続的なデバイス名のシンボリックリンクが置かれるディレクトリ
var byIDDir = "/dev/input/by-id"

type Device struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// by-id のシンボリックリンク（直接パスを指定した場合は空）
	Link string `json:"link,omitempty"`
}

// ScanDevices は現在接続されているマウスのイベントデバイス一覧を返します
func ScanDevices() ([]Device, error) {
	return scanDir(byIDDir)
}

func scanDir(dir string) ([]Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, entry := range entries {
		// マウスのeventデバイスのみ対象
		name := entry.Name()
		if !strings.Contains(name, "event") || !strings.Contains(name, "mouse") {
			continue
		}
		fullPath := filepath.Join(dir, name)
		realPath, err := os.Readlink(fullPath)
		if err != nil {
			continue
		}

		// 絶対パスを構築
		absPath := realPath
		if !filepath.IsAbs(realPath) {
			absPath = filepath.Join(filepath.Dir(dir), filepath.Base(realPath))
		}

		devices = append(devices, Device{Name: name, Path: absPath, Link: fullPath})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// SelectMouse は使用するマウスを決定する
// 優先デバイス名が一致すればそれを、無ければ最初のマウスを返す
func SelectMouse(devices []Device, preferred string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoMouse
	}
	if preferred != "" {
		for _, d := range devices {
			if d.Name == preferred || d.Path == preferred {
				return d, nil
			}
		}
	}
	return devices[0], nil
}

// CheckInputDevice は開いたデバイスが自分の仮想ポインターでないことを確認する
// 自分の出力を読むと注入した移動がすべてエコーとして捨てられ、実際の入力が届かない
func CheckInputDevice(deviceName, virtualName string) error {
	if virtualName != "" && strings.TrimSpace(deviceName) == strings.TrimSpace(virtualName) {
		return ErrOwnPointer
	}
	return nil
}

// DeviceMonitor は使用中のデバイスノードが削除されたことを検出する
type DeviceMonitor struct {
	watcher  *fsnotify.Watcher
	targets  map[string]bool
	removed  chan struct{}
	stopChan chan struct{}
	once     sync.Once
	stopOnce sync.Once
	logger   *zap.SugaredLogger
}

// NewDeviceMonitor はデバイスのパスを監視するDeviceMonitorを作成する
// paths にはイベントデバイスの実体とby-idのシンボリックリンクを指定できる
func NewDeviceMonitor(logger *zap.SugaredLogger, paths ...string) (*DeviceMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	dm := &DeviceMonitor{
		watcher:  watcher,
		targets:  make(map[string]bool),
		removed:  make(chan struct{}),
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		dm.targets[filepath.Clean(p)] = true
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warnf("ディレクトリの監視に失敗しました: %s - %v", dir, err)
		} else {
			logger.Debugf("ディレクトリ監視を開始: %s", dir)
		}
	}

	go dm.watchEvents()
	return dm, nil
}

// Removed は監視対象のデバイスが削除されたときに閉じられるチャネルを返す
func (dm *DeviceMonitor) Removed() <-chan struct{} {
	return dm.removed
}

// Stop はデバイスの監視を停止する
func (dm *DeviceMonitor) Stop() {
	dm.stopOnce.Do(func() {
		close(dm.stopChan)
		dm.watcher.Close()
	})
}

// watchEvents はfsnotifyのイベントを監視する
func (dm *DeviceMonitor) watchEvents() {
	for {
		select {
		case <-dm.stopChan:
			return

		case event, ok := <-dm.watcher.Events:
			if !ok {
				return
			}
			if !dm.targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				dm.logger.Infof("デバイスが削除されました: %s", event.Name)
				dm.once.Do(func() { close(dm.removed) })
			}

		case err, ok := <-dm.watcher.Errors:
			if !ok {
				return
			}
			dm.logger.Warnf("ファイルシステム監視エラー: %v", err)
		}
	}
}
