package auth

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
)

// GoogleProfile Google ID Token 中携带的用户信息
type GoogleProfile struct {
	Email   string
	Name    string
	Picture string
}

// TokenVerifier Google ID Token 验证接口（测试时可替换为 stub）
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleProfile, error)
}

// googleVerifier 基于 Google 公钥的真实验证实现
type googleVerifier struct {
	clientID string
}

// NewGoogleVerifier 创建 Google ID Token 验证器
// audience 必须是本应用的 OAuth Client ID，防止其他应用的令牌被复用
func NewGoogleVerifier(clientID string) TokenVerifier {
	return &googleVerifier{clientID: clientID}
}

func (v *googleVerifier) Verify(ctx context.Context, idToken string) (*GoogleProfile, error) {
	payload, err := idtoken.Validate(ctx, idToken, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("google token validation failed: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("google token missing email claim")
	}
	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)

	return &GoogleProfile{Email: email, Name: name, Picture: picture}, nil
}
