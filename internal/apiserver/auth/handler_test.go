package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sales-crm/internal/shared/model"
	"sales-crm/internal/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier 测试用 Google 验证器
type stubVerifier struct {
	profile *GoogleProfile
	err     error
}

func (v *stubVerifier) Verify(ctx context.Context, idToken string) (*GoogleProfile, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.profile, nil
}

func newTestHandler(t *testing.T) (*Handler, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	h := NewHandler(store, testConfig(), &stubVerifier{})
	return h, store
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// seedUser 直接向存储写入一个密码用户
func seedUser(t *testing.T, store *storage.MemoryStore, email, password string, role model.UserRole) *model.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	now := time.Now()
	user := &model.User{
		ID:           generateID("usr"),
		Name:         "Seeded User",
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

// ============================================================================
// Register
// ============================================================================

// TestRegister_CreatesAgentAndSetsCookie 注册产生坐席账号并签发会话
func TestRegister_CreatesAgentAndSetsCookie(t *testing.T) {
	h, store := newTestHandler(t)

	rec := doJSON(t, h.Register, "POST", "/api/auth/register", RegisterRequest{
		Name: "Ravi", Email: "Ravi@Example.com", Password: "pass123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	user := body["user"].(map[string]interface{})
	// 注册接口永远不产生管理员，邮箱落盘前统一小写
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, "ravi@example.com", user["email"])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)

	stored, err := store.GetUserByEmail(context.Background(), "ravi@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.UserRoleUser, stored.Role)
}

// TestRegister_DuplicateEmail 重复邮箱返回 400
func TestRegister_DuplicateEmail(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "dup@example.com", "pass", model.UserRoleUser)

	rec := doJSON(t, h.Register, "POST", "/api/auth/register", RegisterRequest{
		Name: "Again", Email: "dup@example.com", Password: "pass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User already exists", decodeBody(t, rec)["message"])
}

// TestRegister_MissingFields 缺字段返回 400
func TestRegister_MissingFields(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, req := range []RegisterRequest{
		{Email: "a@b.c", Password: "p"},
		{Name: "A", Password: "p"},
		{Name: "A", Email: "a@b.c"},
	} {
		rec := doJSON(t, h.Register, "POST", "/api/auth/register", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

// ============================================================================
// Login
// ============================================================================

// TestLogin_Success 正确凭据登录并拿到 Cookie
func TestLogin_Success(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "agent@example.com", "secret1", model.UserRoleUser)

	rec := doJSON(t, h.Login, "POST", "/api/auth/login", LoginRequest{
		Email: "agent@example.com", Password: "secret1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["token"])
}

// TestLogin_InvalidCredentials 未知邮箱与错误密码返回同一提示
func TestLogin_InvalidCredentials(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "agent@example.com", "secret1", model.UserRoleUser)

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"unknown email", LoginRequest{Email: "nobody@example.com", Password: "secret1"}},
		{"wrong password", LoginRequest{Email: "agent@example.com", Password: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h.Login, "POST", "/api/auth/login", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["message"])
		})
	}
}

// TestLogin_GoogleOnlyAccount Google 账号走密码登录被拒绝
func TestLogin_GoogleOnlyAccount(t *testing.T) {
	h, store := newTestHandler(t)
	hash, err := HashPassword("placeholder")
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.CreateUser(context.Background(), &model.User{
		ID: generateID("usr"), Name: "Goog", Email: "goog@example.com",
		PasswordHash: hash, Role: model.UserRoleUser, GoogleAuth: true,
		CreatedAt: now, UpdatedAt: now,
	}))

	rec := doJSON(t, h.Login, "POST", "/api/auth/login", LoginRequest{
		Email: "goog@example.com", Password: "placeholder",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please login with Google", decodeBody(t, rec)["message"])
}

// ============================================================================
// Google 登录
// ============================================================================

// TestGoogleLogin_FirstSignInCreatesUser 首次 Google 登录自动建号
func TestGoogleLogin_FirstSignInCreatesUser(t *testing.T) {
	store := storage.NewMemoryStore()
	h := NewHandler(store, testConfig(), &stubVerifier{profile: &GoogleProfile{
		Email: "new@gmail.com", Name: "New Person", Picture: "https://lh3.example/pic",
	}})

	rec := doJSON(t, h.GoogleLogin, "POST", "/api/auth/google", GoogleLoginRequest{Credential: "gid-token"})
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := store.GetUserByEmail(context.Background(), "new@gmail.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.GoogleAuth)
	assert.Equal(t, model.UserRoleUser, stored.Role)
	assert.Equal(t, "https://lh3.example/pic", stored.Avatar)
	assert.NotEmpty(t, stored.PasswordHash)
}

// TestGoogleLogin_RepeatSignInReusesUser 再次登录复用账号
func TestGoogleLogin_RepeatSignInReusesUser(t *testing.T) {
	store := storage.NewMemoryStore()
	h := NewHandler(store, testConfig(), &stubVerifier{profile: &GoogleProfile{
		Email: "repeat@gmail.com", Name: "Repeat",
	}})

	rec := doJSON(t, h.GoogleLogin, "POST", "/api/auth/google", GoogleLoginRequest{Credential: "tok"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h.GoogleLogin, "POST", "/api/auth/google", GoogleLoginRequest{Credential: "tok"})
	require.Equal(t, http.StatusOK, rec.Code)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

// TestGoogleLogin_TokenFieldName 前端发的是 token 字段，同样接受
func TestGoogleLogin_TokenFieldName(t *testing.T) {
	store := storage.NewMemoryStore()
	h := NewHandler(store, testConfig(), &stubVerifier{profile: &GoogleProfile{
		Email: "tokenfield@gmail.com", Name: "Token Field",
	}})

	rec := doJSON(t, h.GoogleLogin, "POST", "/api/auth/google", map[string]string{"token": "gid-token"})
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := store.GetUserByEmail(context.Background(), "tokenfield@gmail.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.GoogleAuth)
}

// TestGoogleLogin_InvalidToken 验证失败返回 401
func TestGoogleLogin_InvalidToken(t *testing.T) {
	store := storage.NewMemoryStore()
	h := NewHandler(store, testConfig(), &stubVerifier{err: fmt.Errorf("bad token")})

	rec := doJSON(t, h.GoogleLogin, "POST", "/api/auth/google", GoogleLoginRequest{Credential: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// 会话内操作
// ============================================================================

func withUser(req *http.Request, user *model.User) *http.Request {
	safe := *user
	safe.PasswordHash = ""
	return req.WithContext(WithAuthUser(req.Context(), &safe))
}

// TestMe_ReturnsCurrentUser me 返回 context 中的用户
func TestMe_ReturnsCurrentUser(t *testing.T) {
	h, store := newTestHandler(t)
	user := seedUser(t, store, "me@example.com", "pw", model.UserRoleUser)

	req := withUser(httptest.NewRequest("GET", "/api/auth/me", nil), user)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "me@example.com", body["user"].(map[string]interface{})["email"])
}

// TestUpdatePassword_Flow 修改密码全流程
func TestUpdatePassword_Flow(t *testing.T) {
	h, store := newTestHandler(t)
	user := seedUser(t, store, "pw@example.com", "old-pass", model.UserRoleUser)

	// 旧密码错误 → 401
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(UpdatePasswordRequest{CurrentPassword: "wrong", NewPassword: "new-pass"}))
	req := withUser(httptest.NewRequest("PUT", "/api/auth/updatepassword", &buf), user)
	rec := httptest.NewRecorder()
	h.UpdatePassword(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Incorrect current password", decodeBody(t, rec)["message"])

	// 正确旧密码 → 200，且新密码可登录
	buf.Reset()
	require.NoError(t, json.NewEncoder(&buf).Encode(UpdatePasswordRequest{CurrentPassword: "old-pass", NewPassword: "new-pass"}))
	req = withUser(httptest.NewRequest("PUT", "/api/auth/updatepassword", &buf), user)
	rec = httptest.NewRecorder()
	h.UpdatePassword(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, CheckPassword("new-pass", stored.PasswordHash))
	assert.False(t, CheckPassword("old-pass", stored.PasswordHash))
}

// TestUpdatePassword_GoogleUser Google 账号不能改密码
func TestUpdatePassword_GoogleUser(t *testing.T) {
	h, store := newTestHandler(t)
	now := time.Now()
	user := &model.User{
		ID: generateID("usr"), Name: "G", Email: "g@example.com",
		PasswordHash: "x", Role: model.UserRoleUser, GoogleAuth: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(UpdatePasswordRequest{CurrentPassword: "a", NewPassword: "b"}))
	req := withUser(httptest.NewRequest("PUT", "/api/auth/updatepassword", &buf), user)
	rec := httptest.NewRecorder()
	h.UpdatePassword(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Google users cannot change password", decodeBody(t, rec)["message"])
}

// TestUpdateDetails_EmailTaken 改邮箱撞上他人邮箱返回 400
func TestUpdateDetails_EmailTaken(t *testing.T) {
	h, store := newTestHandler(t)
	user := seedUser(t, store, "one@example.com", "pw", model.UserRoleUser)
	seedUser(t, store, "two@example.com", "pw", model.UserRoleUser)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(UpdateDetailsRequest{Name: "One", Email: "two@example.com"}))
	req := withUser(httptest.NewRequest("PUT", "/api/auth/updatedetails", &buf), user)
	rec := httptest.NewRecorder()
	h.UpdateDetails(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already in use", decodeBody(t, rec)["message"])
}

// ============================================================================
// 管理员操作
// ============================================================================

// TestDeleteUser_Semantics 删除用户：未知 ID 404，自删 400，重复删除 404
func TestDeleteUser_Semantics(t *testing.T) {
	h, store := newTestHandler(t)
	admin := seedUser(t, store, "admin@example.com", "pw", model.UserRoleAdmin)
	victim := seedUser(t, store, "victim@example.com", "pw", model.UserRoleUser)

	do := func(id string) *httptest.ResponseRecorder {
		req := withUser(httptest.NewRequest("DELETE", "/api/auth/users/"+id, nil), admin)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		h.DeleteUser(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNotFound, do("usr-missing").Code)
	assert.Equal(t, http.StatusBadRequest, do(admin.ID).Code)
	assert.Equal(t, http.StatusOK, do(victim.ID).Code)
	// 幂等性：同一 ID 的第二次删除 404
	assert.Equal(t, http.StatusNotFound, do(victim.ID).Code)
}

// TestAdminOnly_Guard 角色闸门
func TestAdminOnly_Guard(t *testing.T) {
	called := false
	guarded := AdminOnly(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	// 无用户 → 403
	rec := httptest.NewRecorder()
	guarded(rec, httptest.NewRequest("GET", "/api/auth/users", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)

	// 坐席 → 403
	rec = httptest.NewRecorder()
	agent := &model.User{ID: "u1", Role: model.UserRoleUser}
	guarded(rec, withUser(httptest.NewRequest("GET", "/api/auth/users", nil), agent))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)

	// 管理员 → 放行
	rec = httptest.NewRecorder()
	admin := &model.User{ID: "u2", Role: model.UserRoleAdmin}
	guarded(rec, withUser(httptest.NewRequest("GET", "/api/auth/users", nil), admin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

// TestEnsureAdminUser 管理员引导：创建一次，重复调用无副作用
func TestEnsureAdminUser(t *testing.T) {
	store := storage.NewMemoryStore()

	require.NoError(t, EnsureAdminUser(store, "boss@example.com", "boss-pass"))
	admin, err := store.GetUserByEmail(context.Background(), "boss@example.com")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, model.UserRoleAdmin, admin.Role)
	assert.True(t, CheckPassword("boss-pass", admin.PasswordHash))

	require.NoError(t, EnsureAdminUser(store, "boss@example.com", "boss-pass"))
	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)

	// 未配置时是空操作
	require.NoError(t, EnsureAdminUser(store, "", ""))
}
