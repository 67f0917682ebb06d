package model

import "time"

// UserRole 用户角色
//
// "user" 即销售坐席（agent），只能看到分配给自己的线索；
// "admin" 可以看到全部线索（含未分配池）并执行批量分配。
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User 用户
//
// PasswordHash 对 Google OAuth 创建的账号来说是一个随机的不可用占位值，
// 此类账号 GoogleAuth 为 true，密码登录会被拒绝。
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"password_hash"` // never expose in JSON
	Role         UserRole  `json:"role" bson:"role"`
	Avatar       string    `json:"avatar,omitempty" bson:"avatar,omitempty"`
	GoogleAuth   bool      `json:"google_auth,omitempty" bson:"google_auth,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// IsAdmin 是否管理员
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
