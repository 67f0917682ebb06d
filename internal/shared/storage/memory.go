// memory.go 提供内存存储实现，供各包测试使用（语义与 mongostore 对齐：
// 实体不存在返回 (nil, nil)，删除/更新不存在的实体返回 ErrNotFound）。
package storage

import (
	"context"
	"sort"
	"sync"

	"sales-crm/internal/shared/model"
)

// MemoryStore 内存存储实现
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*model.User
	leads map[string]*model.Lead
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: map[string]*model.User{},
		leads: map[string]*model.Lead{},
	}
}

// Close 关闭存储
func (s *MemoryStore) Close() error { return nil }

// 确保 MemoryStore 实现了 PersistentStore 接口
var _ PersistentStore = (*MemoryStore)(nil)

// ============================================================================
// UserStore
// ============================================================================

func (s *MemoryStore) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpdateUserDetails(ctx context.Context, id, name, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range s.users {
		if other.ID != id && other.Email == email {
			return ErrDuplicate
		}
	}
	u.Name = name
	u.Email = email
	return nil
}

func (s *MemoryStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make([]*model.User, 0)
	for _, u := range s.users {
		if u.Role == model.UserRoleUser {
			cp := *u
			agents = append(agents, &cp)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// ============================================================================
// LeadStore
// ============================================================================

func (s *MemoryStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.ID]; ok {
		return ErrDuplicate
	}
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leads {
		if l.Phone == phone {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListLeads(ctx context.Context, assignedTo *string) ([]*model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leads := make([]*model.Lead, 0)
	for _, l := range s.leads {
		if assignedTo != nil {
			if l.AssignedTo == nil || *l.AssignedTo != *assignedTo {
				continue
			}
		}
		cp := *l
		leads = append(leads, &cp)
	}
	// 与 mongostore 一致：updated_at 倒序
	sort.Slice(leads, func(i, j int) bool { return leads[i].UpdatedAt.After(leads[j].UpdatedAt) })
	return leads, nil
}

func (s *MemoryStore) UpdateLead(ctx context.Context, lead *model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.ID]; !ok {
		return ErrNotFound
	}
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteLead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[id]; !ok {
		return ErrNotFound
	}
	delete(s.leads, id)
	return nil
}

func (s *MemoryStore) InsertLeads(ctx context.Context, leads []*model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range leads {
		cp := *l
		s.leads[l.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) AssignLeads(ctx context.Context, leadIDs []string, assigneeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var modified int64
	for _, id := range leadIDs {
		if l, ok := s.leads[id]; ok {
			assignee := assigneeID
			l.AssignedTo = &assignee
			modified++
		}
	}
	return modified, nil
}

func (s *MemoryStore) DeleteLeads(ctx context.Context, leadIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, id := range leadIDs {
		if _, ok := s.leads[id]; ok {
			delete(s.leads, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) LeadStats(ctx context.Context) (*LeadStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &LeadStats{ByStatus: map[string]int64{}}
	closed := map[string]int64{}
	for _, l := range s.leads {
		stats.Total++
		stats.ByStatus[string(l.Status)]++
		if l.AssignedTo == nil {
			stats.Unassigned++
		} else if l.Status == model.LeadStatusClosed {
			closed[*l.AssignedTo]++
		}
	}
	for agent, count := range closed {
		stats.ClosedByAgent = append(stats.ClosedByAgent, AgentClosedCount{AgentID: agent, Count: count})
	}
	sort.Slice(stats.ClosedByAgent, func(i, j int) bool {
		return stats.ClosedByAgent[i].Count > stats.ClosedByAgent[j].Count
	})
	return stats, nil
}
