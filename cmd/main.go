package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/char5742/smooth-mouse/internal/api"
	"github.com/char5742/smooth-mouse/internal/config"
	"github.com/char5742/smooth-mouse/internal/features"
	"github.com/char5742/smooth-mouse/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	useApi     bool
	port       int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "smooth-mouse",
		Short:         "マウスの生の移動量を平滑化して仮想ポインターから出力します",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoother(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "設定ファイルのパス (指定しない場合はデフォルトパスを使用)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	run := &cobra.Command{
		Use:   "run",
		Short: "平滑化を開始します",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoother(cmd, opts)
		},
	}
	for _, c := range []*cobra.Command{root, run} {
		c.Flags().BoolVar(&opts.useApi, "api", false, "ステータスAPIサーバーを起動します")
		c.Flags().IntVar(&opts.port, "port", 0, "ステータスAPIサーバーのポート番号")
	}

	root.AddCommand(run, newDevicesCommand(), newConfigCommand(opts))
	return root
}

// loadConfig は設定ファイルを読み込み、フラグで上書きする
func loadConfig(opts *rootOptions) (*config.Config, string, error) {
	cfgPath := opts.configPath
	if cfgPath == "" {
		configDir, err := config.GetDefaultConfigDir()
		if err != nil {
			return config.DefaultConfig(), "", nil
		}
		cfgPath = filepath.Join(configDir, "config.toml")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.useApi {
		cfg.API.Enabled = true
	}
	if opts.port != 0 {
		cfg.API.Port = opts.port
	}
	return cfg, cfgPath, cfg.Validate()
}

func runSmoother(cmd *cobra.Command, opts *rootOptions) error {
	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗しました[path=%s]: %w", cfgPath, err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Debugf("設定ファイル: %s", cfgPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := api.NewSmootherService(cfg, logger)

	if cfg.API.Enabled {
		server := api.NewServer(cfg, service, cfg.API.Port, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Errorf("APIサーバーの起動に失敗しました: %v", err)
			}
		}()
		defer shutdownServer(server, logger)
	}

	err = service.Run(ctx)
	if err != nil && !errors.Is(err, features.ErrSourceClosed) {
		return err
	}
	if err != nil {
		logger.Warn(err)
	}
	logger.Info("シャットダウンします...")
	return nil
}

func shutdownServer(server *api.Server, logger *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warnf("APIサーバーの停止に失敗しました: %v", err)
	}
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "検出されたマウスの一覧を表示します",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := features.ScanDevices()
			if err != nil {
				return fmt.Errorf("デバイス一覧の取得に失敗しました: %w", err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "マウスが見つかりませんでした")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.Name, d.Path)
			}
			return nil
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "有効な設定をTOML形式で表示します",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("設定ファイルの読み込みに失敗しました[path=%s]: %w", cfgPath, err)
			}
			return config.Encode(cmd.OutOrStdout(), cfg)
		},
	}
}
