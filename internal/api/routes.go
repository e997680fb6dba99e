package api

import "net/http"

// ルートの設定
func (s *Server) setupRoutes(router *http.ServeMux) {
	router.HandleFunc("GET /api/config", s.handleGetConfig)
	router.HandleFunc("GET /api/service/status", s.handleServiceStatus)
	router.HandleFunc("GET /api/health", s.handleHealthCheck)
}

// 設定取得ハンドラ
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg)
}

// サービス状態取得ハンドラ
func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.Status())
}

// ヘルスチェックハンドラ
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
