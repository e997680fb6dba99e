package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/char5742/smooth-mouse/internal/config"
)

// StatusProvider はサービスの状態を返す
type StatusProvider interface {
	Status() ServiceStatus
}

// Server は読み取り専用のステータスAPIサーバー
type Server struct {
	server   *http.Server
	cfg      *config.Config
	provider StatusProvider
	logger   *zap.SugaredLogger
	port     int
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(cfg *config.Config, provider StatusProvider, port int, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		port:     port,
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	s.setupRoutes(router)
	return router
}

// Start はAPIサーバーを開始する。Stop されるまで戻らない
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("APIサーバーを開始します: http://localhost:%d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop はAPIサーバーを停止する
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("APIサーバーを停止します...")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// writeJSON はJSONレスポンスを書き込む
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Warnf("JSONエンコードエラー: %v", err)
		}
	}
}
