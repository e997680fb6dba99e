package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/char5742/smooth-mouse/internal/config"
	"github.com/char5742/smooth-mouse/internal/features"
)

// ServiceStatus はサービスの状態
type ServiceStatus struct {
	Running bool               `json:"running"`
	State   string             `json:"state"`
	Device  features.Device    `json:"device"`
	Stats   features.LoopStats `json:"stats"`
}

// SmootherService はマウス平滑化サービスを管理する構造体
type SmootherService struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	statusMutex sync.RWMutex
	running     bool
	device      features.Device
	loop        *features.Loop
	cancel      context.CancelFunc
}

// NewSmootherService は新しいマウス平滑化サービスを作成する
func NewSmootherService(cfg *config.Config, logger *zap.SugaredLogger) *SmootherService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SmootherService{cfg: cfg, logger: logger}
}

// Run はデバイスを準備してイベントループを実行する
// 準備に失敗した場合はループを開始せずにエラーを返す
func (s *SmootherService) Run(ctx context.Context) error {
	s.statusMutex.Lock()
	if s.running {
		s.statusMutex.Unlock()
		return fmt.Errorf("サービスは既に実行中です")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.statusMutex.Unlock()

	defer func() {
		cancel()
		s.statusMutex.Lock()
		s.running = false
		s.statusMutex.Unlock()
	}()

	// 仮想ポインターデバイスの作成
	pointer, err := features.CreateVirtualPointer(s.cfg.Device.UinputPath,
		[]byte(s.cfg.Device.VirtualName), s.cfg.Echo.Sentinel)
	if err != nil {
		return fmt.Errorf("仮想ポインターの作成に失敗しました: %w", err)
	}
	defer pointer.Close()

	device, err := s.resolveDevice()
	if err != nil {
		return err
	}
	s.logger.Infof("使用するマウス: %s (%s)", device.Name, device.Path)

	mouse, err := features.CreateMouse(device.Path, s.logger)
	if err != nil {
		return fmt.Errorf("マウスデバイスのオープンに失敗しました[path=%s]: %w", device.Path, err)
	}
	defer mouse.Close()

	if err := features.CheckInputDevice(mouse.Name(), s.cfg.Device.VirtualName); err != nil {
		return fmt.Errorf("%w[path=%s]", err, device.Path)
	}

	if s.cfg.Device.Grab {
		if err := mouse.Grab(); err != nil {
			return err
		}
	}

	monitor, err := features.NewDeviceMonitor(s.logger, device.Path, device.Link)
	if err != nil {
		return fmt.Errorf("デバイスモニターの作成に失敗しました: %w", err)
	}
	defer monitor.Stop()
	go func() {
		select {
		case <-monitor.Removed():
			s.logger.Warnf("マウスが取り外されたため終了します: %s", device.Path)
			cancel()
		case <-ctx.Done():
		}
	}()

	loop := features.NewLoop(mouse, pointer, features.LoopOptions{
		Smoothing: features.SmoothingConfig{
			Damper:       s.cfg.Smoothing.Damper,
			Accelerator:  s.cfg.Smoothing.Accelerator,
			VelThreshold: s.cfg.Smoothing.VelThreshold,
		},
		Sentinel:     s.cfg.Echo.Sentinel,
		ResetOnEcho:  s.cfg.Loop.EchoResetsPending,
		Passthrough:  !s.cfg.Device.Grab,
		IdleInterval: s.cfg.Loop.IdleInterval,
		Logger:       s.logger,
	})

	s.statusMutex.Lock()
	s.device = device
	s.loop = loop
	s.statusMutex.Unlock()

	s.logger.Info("マウスの平滑化を開始しました")
	err = loop.Run(ctx)
	stats := loop.Stats()
	s.logger.Infof("マウスの平滑化を停止しました (events=%d, ticks=%d, injected=%d, echoes=%d)",
		stats.Events, stats.Ticks, stats.Injected, stats.EchoesDropped)

	if errors.Is(err, features.ErrSourceClosed) {
		return fmt.Errorf("マウスからの入力が途絶えました: %w", err)
	}
	return err
}

// resolveDevice は設定に従って入力元のデバイスを決定する
func (s *SmootherService) resolveDevice() (features.Device, error) {
	if s.cfg.Device.Path != "" {
		return features.Device{Name: s.cfg.Device.Path, Path: s.cfg.Device.Path}, nil
	}

	devices, err := features.ScanDevices()
	if err != nil {
		return features.Device{}, fmt.Errorf("デバイス一覧の取得に失敗しました: %w", err)
	}
	return features.SelectMouse(devices, s.cfg.Device.PreferredMouse)
}

// Stop は実行中のイベントループに終了を通知する
func (s *SmootherService) Stop() error {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	if !s.running {
		return fmt.Errorf("サービスは実行されていません")
	}
	s.cancel()
	return nil
}

// IsRunning はサービスが実行中かどうかを返す
func (s *SmootherService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.running
}

// Status は現在の状態を返す
func (s *SmootherService) Status() ServiceStatus {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	status := ServiceStatus{
		Running: s.running,
		State:   features.StateQuit.String(),
		Device:  s.device,
	}
	if s.loop != nil {
		status.State = s.loop.State().String()
		status.Stats = s.loop.Stats()
	}
	if !s.running {
		status.State = "stopped"
	}
	return status
}
