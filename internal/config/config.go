package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultEchoSentinel は自分で注入したイベントに付けるタグの既定値
const DefaultEchoSentinel uint64 = 3584750163

// Config はアプリケーション全体の設定を表す構造体
type Config struct {
	Smoothing SmoothingConfig `toml:"smoothing" json:"smoothing"`
	Loop      LoopConfig      `toml:"loop" json:"loop"`
	Echo      EchoConfig      `toml:"echo" json:"echo"`
	Device    DeviceConfig    `toml:"device" json:"device"`
	Log       LogConfig       `toml:"log" json:"log"`
	API       APIConfig       `toml:"api" json:"api"`
}

// SmoothingConfig は平滑化エンジンのパラメータ
type SmoothingConfig struct {
	Damper       float64 `toml:"damper" json:"damper"`
	Accelerator  float64 `toml:"accelerator" json:"accelerator"`
	VelThreshold float64 `toml:"vel_threshold" json:"vel_threshold"`
}

// LoopConfig はイベントループの設定
type LoopConfig struct {
	// 減衰中に新しいイベントを待つ最大時間。0 の場合は待たずにポーリングする
	IdleInterval time.Duration `toml:"idle_interval" json:"idle_interval"`
	// エコー受信時に未処理の入力も破棄するかどうか
	EchoResetsPending bool `toml:"echo_resets_pending" json:"echo_resets_pending"`
}

// EchoConfig はエコー抑制の設定
type EchoConfig struct {
	Sentinel uint64 `toml:"sentinel" json:"sentinel"`
}

// DeviceConfig は入出力デバイスの設定
type DeviceConfig struct {
	Path           string `toml:"path" json:"path"`
	PreferredMouse string `toml:"preferred_mouse" json:"preferred_mouse"`
	Grab           bool   `toml:"grab" json:"grab"`
	UinputPath     string `toml:"uinput_path" json:"uinput_path"`
	VirtualName    string `toml:"virtual_name" json:"virtual_name"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// APIConfig はステータスAPIの設定
type APIConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	Port    int  `toml:"port" json:"port"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Smoothing: SmoothingConfig{
			Damper:       5.0,
			Accelerator:  5.0,
			VelThreshold: 0.5,
		},
		Loop: LoopConfig{
			IdleInterval:      time.Millisecond,
			EchoResetsPending: false,
		},
		Echo: EchoConfig{
			Sentinel: DefaultEchoSentinel,
		},
		Device: DeviceConfig{
			Grab:        true,
			UinputPath:  "/dev/uinput",
			VirtualName: "SmoothMouse Virtual Pointer",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		API: APIConfig{
			Enabled: false,
			Port:    8080,
		},
	}
}

// GetDefaultConfigDir は設定ファイルを置くデフォルトのディレクトリを返す
func GetDefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "smooth-mouse"), nil
}

// LoadConfig は設定ファイルから設定を読み込む
// ファイルが存在しない場合はデフォルト設定を返す（ファイルは作成しない）
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return config, nil
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return config, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Encode は設定をTOML形式で書き出す
func Encode(w io.Writer, config *Config) error {
	return toml.NewEncoder(w).Encode(config)
}

// Validate は設定値の妥当性を確認する
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"smoothing.damper", c.Smoothing.Damper},
		{"smoothing.accelerator", c.Smoothing.Accelerator},
		{"smoothing.vel_threshold", c.Smoothing.VelThreshold},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%s は正の有限値である必要があります: %v", p.name, p.value)
		}
	}

	if c.Loop.IdleInterval < 0 {
		return fmt.Errorf("loop.idle_interval は0以上である必要があります: %v", c.Loop.IdleInterval)
	}

	// MSC_SERIAL は32bitのため
	if c.Echo.Sentinel == 0 || c.Echo.Sentinel > math.MaxUint32 {
		return fmt.Errorf("echo.sentinel は1から%dの範囲である必要があります: %d", uint64(math.MaxUint32), c.Echo.Sentinel)
	}

	if c.Device.UinputPath == "" {
		return errors.New("device.uinput_path が空です")
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port が不正です: %d", c.API.Port)
	}

	return nil
}
