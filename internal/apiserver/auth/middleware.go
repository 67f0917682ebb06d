package auth

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"sales-crm/internal/shared/model"
	"sales-crm/internal/shared/storage"
)

// 会话鉴权失败原因
var (
	ErrNoToken      = errors.New("no session token")
	ErrInvalidToken = errors.New("invalid session token")
	ErrUserNotFound = errors.New("session user not found")
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/google",
	"/api/auth/logout",
	"/health",
	"/metrics",
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware 创建会话认证中间件
//
// 从会话 Cookie（或 Authorization: Bearer 兜底）提取 JWT，验证后按
// Subject 反查用户 —— 令牌有效但用户已被删除同样视为未认证。
// 解析出的用户（不含密码哈希）注入 context 供下游 Handler 使用。
func Middleware(cfg Config, store storage.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 公开路由：直接放行
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			user, err := AuthenticateRequest(r, cfg, store)
			if err != nil {
				writeError(w, http.StatusUnauthorized, authErrorMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthUser(r.Context(), user)))
		})
	}
}

// AuthenticateRequest 从请求中提取并验证会话，按 Subject 反查用户
//
// 认证中间件和 WebSocket 握手共用这条路径：令牌有效但用户已被删除
// 同样视为未认证。返回的用户副本不含密码哈希。
func AuthenticateRequest(r *http.Request, cfg Config, store storage.UserStore) (*model.User, error) {
	token := extractToken(r)
	if token == "" {
		return nil, ErrNoToken
	}

	claims, err := ParseToken(cfg, token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := store.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		log.Printf("[auth] GetUserByID error: %v", err)
		return nil, ErrInvalidToken
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	// 下游只拿到不含凭据的用户副本
	safe := *user
	safe.PasswordHash = ""
	return &safe, nil
}

// authErrorMessage 鉴权失败原因到响应消息的映射
func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoToken):
		return "Not logged in"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	default:
		return "Invalid token"
	}
}

// extractToken 优先取会话 Cookie，其次 Authorization: Bearer
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

// AdminOnly 管理员专属路由守卫
//
// 统一的角色闸门：管理员路由显式包裹本函数，而不是依赖路由摆放位置。
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := GetAuthUser(r.Context())
		if user == nil || user.Role != model.UserRoleAdmin {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r)
	}
}
