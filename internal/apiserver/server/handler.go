// Package server 路由配置与核心基础设施
//
// 本文件定义 HTTP API 路由，将请求分发到各领域独立包。
// 文件组织：
//   - handler.go: Handler 定义、路由、CORS、健康检查
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	"sales-crm/internal/apiserver/auth"
	"sales-crm/internal/apiserver/board"
	"sales-crm/internal/apiserver/lead"
	"sales-crm/internal/config"
	"sales-crm/internal/shared/cache"
	"sales-crm/internal/shared/storage"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的领域处理器（auth / lead / board）
//   - 管理存储层与缓存层连接
//   - 应用认证、CORS、指标中间件
type Handler struct {
	store      storage.PersistentStore // MongoDB 存储层
	statsCache cache.StatsCache        // 统计缓存（Redis 或 NoOp）
	boardHub   *board.Hub              // 看板 WebSocket 集线器
	authCfg    auth.Config
	cfg        *config.Config
	metrics    *Metrics

	// 测试时注入 stub，生产为 nil（auth 包自建真实验证器）
	googleVerifier auth.TokenVerifier
}

// NewHandler 创建 Handler 实例
func NewHandler(store storage.PersistentStore, statsCache cache.StatsCache, cfg *config.Config) *Handler {
	if statsCache == nil {
		statsCache = cache.NewNoOpCache()
	}
	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = cfg.JWTSecret
	authCfg.SessionTTL = cfg.SessionTTL
	authCfg.GoogleClientID = cfg.GoogleClientID

	// 看板在 topMux 上绕过了认证中间件，握手自行验证会话
	boardHub := board.NewHub(func(r *http.Request) error {
		_, err := auth.AuthenticateRequest(r, authCfg, store)
		return err
	})

	return &Handler{
		store:      store,
		statsCache: statsCache,
		boardHub:   boardHub,
		authCfg:    authCfg,
		cfg:        cfg,
		metrics:    NewMetrics("crm"),
	}
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// SetGoogleVerifier 注入 Google 令牌验证器（测试用）
func (h *Handler) SetGoogleVerifier(v auth.TokenVerifier) {
	h.googleVerifier = v
}

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//
// 认证 (Auth):
//   - POST   /api/auth/register       - 注册坐席
//   - POST   /api/auth/login          - 密码登录
//   - POST   /api/auth/google         - Google 登录
//   - POST   /api/auth/logout         - 注销
//   - GET    /api/auth/me             - 当前用户
//   - PUT    /api/auth/updatedetails  - 更新资料
//   - PUT    /api/auth/updatepassword - 修改密码
//   - GET    /api/auth/users          - 团队目录（管理员）
//   - DELETE /api/auth/users/{id}     - 删除用户（管理员）
//
// 线索 (Lead):
//   - POST   /api/leads               - 手工录入
//   - GET    /api/leads               - 列表（按角色过滤）
//   - GET    /api/leads/stats         - 管道统计
//   - GET    /api/leads/template      - 导入模板下载
//   - GET    /api/leads/agents        - 坐席列表
//   - POST   /api/leads/upload        - Excel 批量导入
//   - PUT    /api/leads/assign        - 批量改派（管理员）
//   - DELETE /api/leads/bulk-delete   - 批量删除
//   - PUT    /api/leads/{id}          - 更新
//   - DELETE /api/leads/{id}          - 删除
//
// WebSocket:
//   - GET    /ws/board                - 看板实时事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// Auth 接口
	authHandler := auth.NewHandler(h.store, h.authCfg, h.googleVerifier)
	authHandler.RegisterRoutes(mux)

	// Lead 接口（统计缓存 + 看板广播注入）
	leadHandler := lead.NewHandler(h.store, h.store, h.statsCache, h.boardHub)
	leadHandler.SetImportRecorder(h.metrics)
	leadHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authCfg, h.store)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(h.cfg.AllowedOrigins, authedHandler)

	// 顶层路由：WebSocket 绕过 metrics/CORS 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	h.boardHub.RegisterRoutes(topMux)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
//
// 会话走 Cookie，所以必须回显具体 Origin 并开启 Allow-Credentials，
// 不能使用通配符 *。不在白名单内的 Origin 不回 CORS 头，由浏览器拦截。
func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
// 返回 {"status": "ok"} 表示服务正常运行。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
