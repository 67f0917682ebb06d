package storage

import (
	"context"

	"sales-crm/internal/shared/model"
)

// UserStore 用户存储接口
//
// GetUserByEmail / GetUserByID 在实体不存在时返回 (nil, nil)，
// 调用方据此区分"查询失败"和"没有这个用户"。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUserDetails(ctx context.Context, id, name, email string) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	ListUsers(ctx context.Context) ([]*model.User, error)
	ListAgents(ctx context.Context) ([]*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// LeadStore 线索存储接口
//
// ListLeads 的 assignedTo 为 nil 表示不过滤（管理员视角），
// 非 nil 表示只返回分配给该用户的线索（坐席视角）。
// 结果按 updated_at 倒序。
type LeadStore interface {
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLeadByID(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error)
	ListLeads(ctx context.Context, assignedTo *string) ([]*model.Lead, error)
	UpdateLead(ctx context.Context, lead *model.Lead) error
	DeleteLead(ctx context.Context, id string) error

	// InsertLeads 批量插入（批量导入用）。
	// 尽力而为：底层按顺序写入，中途失败时已写入的行不回滚。
	InsertLeads(ctx context.Context, leads []*model.Lead) error

	// AssignLeads 将一组线索改派给指定坐席，返回实际修改的条数。
	AssignLeads(ctx context.Context, leadIDs []string, assigneeID string) (int64, error)

	// DeleteLeads 按 ID 列表批量删除，返回实际删除的条数。
	// 不存在的 ID 视为空操作，不报错。
	DeleteLeads(ctx context.Context, leadIDs []string) (int64, error)

	// LeadStats 管道各阶段计数 + 各坐席 Closed 计数（仪表盘/排行榜用）。
	LeadStats(ctx context.Context) (*LeadStats, error)
}

// LeadStats 线索统计结果
type LeadStats struct {
	Total         int64              `json:"total"`
	ByStatus      map[string]int64   `json:"by_status"`
	Unassigned    int64              `json:"unassigned"`
	ClosedByAgent []AgentClosedCount `json:"closed_by_agent"`
}

// AgentClosedCount 单个坐席的成交数
type AgentClosedCount struct {
	AgentID string `json:"agent_id" bson:"_id"`
	Count   int64  `json:"count" bson:"count"`
}

// PersistentStore 持久化存储组合接口
//
// 设计原则：依赖倒置 —— 调用方只依赖接口，具体实现（mongostore）
// 在进程启动时注入，不使用模块级单例。
type PersistentStore interface {
	UserStore
	LeadStore
	Close() error
}
