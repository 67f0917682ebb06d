package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"sales-crm/internal/shared/model"
	"sales-crm/internal/shared/storage"
)

// Handler 认证领域 HTTP 处理器
type Handler struct {
	store    storage.UserStore
	cfg      Config
	verifier TokenVerifier
}

// NewHandler 创建认证处理器
// verifier 为 nil 时自动根据 cfg.GoogleClientID 创建真实验证器
func NewHandler(store storage.UserStore, cfg Config, verifier TokenVerifier) *Handler {
	if verifier == nil {
		verifier = NewGoogleVerifier(cfg.GoogleClientID)
	}
	return &Handler{store: store, cfg: cfg, verifier: verifier}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/google", h.GoogleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/auth/me", h.Me)
	mux.HandleFunc("PUT /api/auth/updatedetails", h.UpdateDetails)
	mux.HandleFunc("PUT /api/auth/updatepassword", h.UpdatePassword)
	mux.HandleFunc("GET /api/auth/users", AdminOnly(h.ListUsers))
	mux.HandleFunc("DELETE /api/auth/users/{id}", AdminOnly(h.DeleteUser))
}

// ============================================================================
// 响应类型
// ============================================================================

// UserResponse 对外暴露的用户信息（不含密码哈希）
type UserResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Avatar     string    `json:"avatar,omitempty"`
	GoogleAuth bool      `json:"googleAuth,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       string(u.Role),
		Avatar:     u.Avatar,
		GoogleAuth: u.GoogleAuth,
		CreatedAt:  u.CreatedAt,
	}
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// RegisterRequest POST /api/auth/register 请求
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register 注册新坐席账号
// POST /api/auth/register
//
// 注册接口只产生 "user" 角色；管理员账号由启动引导 EnsureAdminUser 创建。
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}

	existing, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		log.Printf("[auth] GetUserByEmail error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Printf("[auth] HashPassword error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	now := time.Now()
	user := &model.User{
		ID:           generateID("usr"),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.UserRoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		// 并发注册撞上唯一索引也按已存在处理
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "User already exists")
			return
		}
		log.Printf("[auth] CreateUser error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("[auth] User registered: %s (%s)", user.Email, user.ID)
	h.issueSession(w, http.StatusCreated, user)
}

// LoginRequest POST /api/auth/login 请求
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login 密码登录
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		log.Printf("[auth] GetUserByEmail error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	// 账号不存在与密码错误返回同一提示，避免枚举邮箱
	if user == nil {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if user.GoogleAuth {
		writeError(w, http.StatusBadRequest, "Please login with Google")
		return
	}
	if !CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	log.Printf("[auth] User logged in: %s", user.Email)
	h.issueSession(w, http.StatusOK, user)
}

// GoogleLoginRequest POST /api/auth/google 请求
// Google Identity Services 回调下发的 ID Token；
// 前端历史版本用 token 字段名，两者都接受
type GoogleLoginRequest struct {
	Credential string `json:"credential"`
	Token      string `json:"token"`
}

// credential 取 credential 字段，缺省回落到 token
func (req *GoogleLoginRequest) credential() string {
	if req.Credential != "" {
		return req.Credential
	}
	return req.Token
}

// GoogleLogin Google 登录
// POST /api/auth/google
//
// 首次登录自动建号：随机占位密码 + google_auth 标记 + 头像。
// 再次登录按邮箱复用已有账号（含此前密码注册的账号）。
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	credential := req.credential()
	if credential == "" {
		writeError(w, http.StatusBadRequest, "Google credential is required")
		return
	}

	profile, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		log.Printf("[auth] Google token verify failed: %v", err)
		writeError(w, http.StatusUnauthorized, "Invalid Google token")
		return
	}

	email := normalizeEmail(profile.Email)
	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		log.Printf("[auth] GetUserByEmail error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusOK
	if user == nil {
		// 占位密码只为满足存储结构，CheckPassword 永远不会对它成立
		hash, err := HashPassword(randomSecret())
		if err != nil {
			log.Printf("[auth] HashPassword error: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		name := profile.Name
		if name == "" {
			name = email
		}
		now := time.Now()
		user = &model.User{
			ID:           generateID("usr"),
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Role:         model.UserRoleUser,
			Avatar:       profile.Picture,
			GoogleAuth:   true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.store.CreateUser(r.Context(), user); err != nil {
			log.Printf("[auth] CreateUser error: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		status = http.StatusCreated
		log.Printf("[auth] Google user created: %s (%s)", user.Email, user.ID)
	}

	h.issueSession(w, status, user)
}

// Logout 注销
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ClearSessionCookie(w, h.cfg)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Me 获取当前登录用户
// GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": toUserResponse(user)})
}

// UpdateDetailsRequest PUT /api/auth/updatedetails 请求
type UpdateDetailsRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateDetails 更新姓名/邮箱
// PUT /api/auth/updatedetails
func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	user := GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	var req UpdateDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Name and email are required")
		return
	}

	// 邮箱改动时检查是否已被他人占用
	if req.Email != user.Email {
		existing, err := h.store.GetUserByEmail(r.Context(), req.Email)
		if err != nil {
			log.Printf("[auth] GetUserByEmail error: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if existing != nil {
			writeError(w, http.StatusBadRequest, "Email already in use")
			return
		}
	}

	if err := h.store.UpdateUserDetails(r.Context(), user.ID, req.Name, req.Email); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "Email already in use")
			return
		}
		log.Printf("[auth] UpdateUserDetails error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	updated, err := h.store.GetUserByID(r.Context(), user.ID)
	if err != nil || updated == nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": toUserResponse(updated)})
}

// UpdatePasswordRequest PUT /api/auth/updatepassword 请求
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdatePassword 修改密码
// PUT /api/auth/updatepassword
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "Current and new password are required")
		return
	}

	// context 里的用户已剥离哈希，校验旧密码需要回源读取
	user, err := h.store.GetUserByID(r.Context(), authUser.ID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user.GoogleAuth {
		writeError(w, http.StatusBadRequest, "Google users cannot change password")
		return
	}
	if !CheckPassword(req.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Incorrect current password")
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.store.UpdateUserPassword(r.Context(), user.ID, hash); err != nil {
		log.Printf("[auth] UpdateUserPassword error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("[auth] Password updated: %s", user.Email)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

// ListUsers 团队目录（仅管理员）
// GET /api/auth/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("[auth] ListUsers error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": resp, "count": len(resp)})
}

// DeleteUser 删除用户（仅管理员）
// DELETE /api/auth/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := GetAuthUser(r.Context())
	if caller != nil && caller.ID == id {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("[auth] DeleteUser error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("[auth] User deleted: %s", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

// issueSession 签发会话并返回用户信息
func (h *Handler) issueSession(w http.ResponseWriter, status int, user *model.User) {
	token, err := GenerateSessionToken(h.cfg, user.ID, user.Role)
	if err != nil {
		log.Printf("[auth] GenerateSessionToken error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	SetSessionCookie(w, h.cfg, token)
	writeJSON(w, status, map[string]interface{}{
		"user":  toUserResponse(user),
		"token": token,
	})
}

// normalizeEmail 邮箱统一小写去空白
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ============================================================================
// 启动引导
// ============================================================================

// EnsureAdminUser 确保管理员用户存在（启动时调用）
// 如果配置了 adminEmail 且数据库中不存在该用户，则自动创建
func EnsureAdminUser(store storage.UserStore, adminEmail, adminPassword string) error {
	if adminEmail == "" || adminPassword == "" {
		return nil
	}
	adminEmail = normalizeEmail(adminEmail)

	ctx := context.Background()
	existing, err := store.GetUserByEmail(ctx, adminEmail)
	if err != nil {
		return fmt.Errorf("check admin user: %w", err)
	}
	if existing != nil {
		log.Printf("[auth] Admin user already exists: %s (%s)", adminEmail, existing.ID)
		return nil
	}

	hash, err := HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           generateID("usr"),
		Name:         "Admin",
		Email:        adminEmail,
		PasswordHash: hash,
		Role:         model.UserRoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.Printf("[auth] Created admin user: %s (%s)", adminEmail, user.ID)
	return nil
}
