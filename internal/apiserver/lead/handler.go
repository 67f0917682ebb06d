// Package lead 线索领域 - HTTP 处理
//
// 分配规则（创建与批量导入共用）：
//   - 管理员创建的线索进入未分配池（assigned_to = null）
//   - 坐席创建的线索直接归属本人
//
// 可见性：管理员看到全部线索（含未分配池），坐席只看到分配给自己的。
package lead

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"sales-crm/internal/apiserver/auth"
	"sales-crm/internal/apiserver/board"
	"sales-crm/internal/shared/cache"
	"sales-crm/internal/shared/model"
	"sales-crm/internal/shared/storage"
)

// Handler 线索领域 HTTP 处理器
type Handler struct {
	store   storage.LeadStore
	users   storage.UserStore
	stats   cache.StatsCache
	events  Broadcaster
	imports ImportRecorder
}

// NewHandler 创建线索处理器
// statsCache 为 nil 时退化为 NoOpCache，events 为 nil 时不广播
func NewHandler(store storage.LeadStore, users storage.UserStore, statsCache cache.StatsCache, events Broadcaster) *Handler {
	if statsCache == nil {
		statsCache = cache.NewNoOpCache()
	}
	if events == nil {
		events = noopBroadcaster{}
	}
	return &Handler{store: store, users: users, stats: statsCache, events: events, imports: noopRecorder{}}
}

// SetImportRecorder 注入批量导入指标接收方
func (h *Handler) SetImportRecorder(rec ImportRecorder) {
	if rec != nil {
		h.imports = rec
	}
}

// RegisterRoutes 注册线索相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/leads", h.Create)
	mux.HandleFunc("GET /api/leads", h.List)
	mux.HandleFunc("GET /api/leads/stats", h.Stats)
	mux.HandleFunc("GET /api/leads/template", h.Template)
	mux.HandleFunc("GET /api/leads/agents", h.Agents)
	mux.HandleFunc("POST /api/leads/upload", h.BulkUpload)
	mux.HandleFunc("PUT /api/leads/assign", auth.AdminOnly(h.Assign))
	mux.HandleFunc("DELETE /api/leads/bulk-delete", h.BulkDelete)
	mux.HandleFunc("PUT /api/leads/{id}", h.Update)
	mux.HandleFunc("DELETE /api/leads/{id}", h.Delete)
}

// computeAssignee 按创建者角色决定归属
// 管理员 → nil（未分配池）；坐席 → 本人
func computeAssignee(user *model.User) *string {
	if user.IsAdmin() {
		return nil
	}
	id := user.ID
	return &id
}

// ============================================================================
// 响应类型
// ============================================================================

// AssigneeInfo 线索归属坐席的展示信息
type AssigneeInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LeadResponse 对外返回的线索，assignedTo 已联上坐席姓名/邮箱
type LeadResponse struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Phone      string        `json:"phone"`
	Email      string        `json:"email,omitempty"`
	Source     string        `json:"source"`
	Status     string        `json:"status"`
	AssignedTo *AssigneeInfo `json:"assignedTo"`
	CreatedBy  string        `json:"createdBy"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func toLeadResponse(l *model.Lead, usersByID map[string]*model.User) LeadResponse {
	resp := LeadResponse{
		ID:        l.ID,
		Name:      l.Name,
		Phone:     l.Phone,
		Email:     l.Email,
		Source:    l.Source,
		Status:    string(l.Status),
		CreatedBy: l.CreatedBy,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
	if l.AssignedTo != nil && *l.AssignedTo != "" {
		info := &AssigneeInfo{ID: *l.AssignedTo}
		if u, ok := usersByID[*l.AssignedTo]; ok {
			info.Name = u.Name
			info.Email = u.Email
		}
		resp.AssignedTo = info
	}
	return resp
}

// userIndex 构建 id → user 索引，用于联出归属坐席信息
func (h *Handler) userIndex(r *http.Request) map[string]*model.User {
	index := map[string]*model.User{}
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		log.Printf("[lead] ListUsers error (assignee join degraded): %v", err)
		return index
	}
	for _, u := range users {
		index[u.ID] = u
	}
	return index
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// CreateRequest POST /api/leads 请求
type CreateRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// Create 手工录入线索
// POST /api/leads
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "Name and phone are required")
		return
	}

	status := model.LeadStatus(req.Status)
	if req.Status == "" {
		status = model.LeadStatusNew
	} else if !model.ValidLeadStatus(status) {
		writeError(w, http.StatusBadRequest, "Invalid lead status")
		return
	}
	source := req.Source
	if source == "" {
		source = model.LeadSourceManual
	}

	// 电话是自然去重键
	existing, err := h.store.GetLeadByPhone(r.Context(), req.Phone)
	if err != nil {
		log.Printf("[lead] GetLeadByPhone error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusBadRequest, "Lead with this phone already exists")
		return
	}

	now := time.Now()
	lead := &model.Lead{
		ID:         generateID("lead"),
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		Source:     source,
		Status:     status,
		AssignedTo: computeAssignee(user),
		CreatedBy:  user.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.CreateLead(r.Context(), lead); err != nil {
		log.Printf("[lead] CreateLead error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.invalidateStats(r)
	h.events.BroadcastLeadEvent(board.ActionLeadCreated, lead)
	writeJSON(w, http.StatusCreated, toLeadResponse(lead, h.userIndex(r)))
}

// List 列出线索
// GET /api/leads
//
// 管理员看到全部（含未分配池），坐席只看到自己的。按 updated_at 倒序。
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	var filter *string
	if !user.IsAdmin() {
		filter = &user.ID
	}

	leads, err := h.store.ListLeads(r.Context(), filter)
	if err != nil {
		log.Printf("[lead] ListLeads error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	index := h.userIndex(r)
	resp := make([]LeadResponse, 0, len(leads))
	for _, l := range leads {
		resp = append(resp, toLeadResponse(l, index))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateRequest PUT /api/leads/{id} 请求
// 所有字段可选，只更新出现的字段
type UpdateRequest struct {
	Name   *string `json:"name"`
	Phone  *string `json:"phone"`
	Email  *string `json:"email"`
	Source *string `json:"source"`
	Status *string `json:"status"`
}

// Update 更新线索字段/阶段
// PUT /api/leads/{id}
//
// 阶段之间不做状态机限制，任意合法取值都可直接落盘。
// 副作用：坐席更新未分配池中的线索时自动认领（assigned_to ← 本人）。
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	id := r.PathValue("id")

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lead, err := h.store.GetLeadByID(r.Context(), id)
	if err != nil {
		log.Printf("[lead] GetLeadByID error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if lead == nil {
		writeError(w, http.StatusNotFound, "Lead not found")
		return
	}

	if req.Name != nil && *req.Name != "" {
		lead.Name = *req.Name
	}
	if req.Phone != nil && *req.Phone != "" && *req.Phone != lead.Phone {
		// 换号要重新查重
		existing, err := h.store.GetLeadByPhone(r.Context(), *req.Phone)
		if err != nil {
			log.Printf("[lead] GetLeadByPhone error: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if existing != nil && existing.ID != lead.ID {
			writeError(w, http.StatusBadRequest, "Lead with this phone already exists")
			return
		}
		lead.Phone = *req.Phone
	}
	if req.Email != nil {
		lead.Email = *req.Email
	}
	if req.Source != nil && *req.Source != "" {
		lead.Source = *req.Source
	}
	if req.Status != nil && *req.Status != "" {
		status := model.LeadStatus(*req.Status)
		if !model.ValidLeadStatus(status) {
			writeError(w, http.StatusBadRequest, "Invalid lead status")
			return
		}
		lead.Status = status
	}

	// 坐席碰了未分配池里的线索即视为认领
	if !user.IsAdmin() && lead.Unassigned() {
		lead.AssignedTo = &user.ID
	}

	lead.UpdatedAt = time.Now()
	if err := h.store.UpdateLead(r.Context(), lead); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lead not found")
			return
		}
		log.Printf("[lead] UpdateLead error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.invalidateStats(r)
	h.events.BroadcastLeadEvent(board.ActionLeadUpdated, lead)
	writeJSON(w, http.StatusOK, toLeadResponse(lead, h.userIndex(r)))
}

// Delete 删除单条线索
// DELETE /api/leads/{id}
// 幂等性：对同一 ID 的第二次删除返回 404
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.store.DeleteLead(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lead not found")
			return
		}
		log.Printf("[lead] DeleteLead error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.invalidateStats(r)
	h.events.BroadcastLeadEvent(board.ActionLeadDeleted, map[string]string{"id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Lead removed"})
}

// AssignRequest PUT /api/leads/assign 请求
type AssignRequest struct {
	LeadIDs    []string `json:"leadIds"`
	AssignedTo string   `json:"assignedTo"`
}

// Assign 批量改派线索给指定坐席（仅管理员）
// PUT /api/leads/assign
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.LeadIDs) == 0 || req.AssignedTo == "" {
		writeError(w, http.StatusBadRequest, "Please select leads and an agent.")
		return
	}

	// 改派目标必须是真实存在的用户
	assignee, err := h.users.GetUserByID(r.Context(), req.AssignedTo)
	if err != nil {
		log.Printf("[lead] GetUserByID error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if assignee == nil {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}

	modified, err := h.store.AssignLeads(r.Context(), req.LeadIDs, req.AssignedTo)
	if err != nil {
		log.Printf("[lead] AssignLeads error: %v", err)
		writeError(w, http.StatusInternalServerError, "Assignment failed")
		return
	}

	log.Printf("[lead] Assigned %d leads to %s", modified, req.AssignedTo)
	h.invalidateStats(r)
	h.events.BroadcastLeadEvent(board.ActionLeadAssigned, map[string]interface{}{
		"leadIds":    req.LeadIDs,
		"assignedTo": req.AssignedTo,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Leads assigned successfully",
		"modified": modified,
	})
}

// BulkDeleteRequest DELETE /api/leads/bulk-delete 请求
type BulkDeleteRequest struct {
	LeadIDs []string `json:"leadIds"`
}

// BulkDelete 按 ID 列表批量删除
// DELETE /api/leads/bulk-delete
// 列表中不存在的 ID 是空操作
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.LeadIDs) == 0 {
		writeError(w, http.StatusBadRequest, "No leads selected")
		return
	}

	deleted, err := h.store.DeleteLeads(r.Context(), req.LeadIDs)
	if err != nil {
		log.Printf("[lead] DeleteLeads error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.invalidateStats(r)
	h.events.BroadcastLeadEvent(board.ActionLeadDeleted, map[string]interface{}{"leadIds": req.LeadIDs})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Selected leads deleted successfully",
		"deleted": deleted,
	})
}

// Agents 坐席列表（分配下拉框用）
// GET /api/leads/agents
func (h *Handler) Agents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.users.ListAgents(r.Context())
	if err != nil {
		log.Printf("[lead] ListAgents error: %v", err)
		writeError(w, http.StatusInternalServerError, "Error fetching agents")
		return
	}

	resp := make([]AssigneeInfo, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, AssigneeInfo{ID: a.ID, Name: a.Name, Email: a.Email})
	}
	writeJSON(w, http.StatusOK, resp)
}

// invalidateStats 线索有写入后使统计缓存失效
func (h *Handler) invalidateStats(r *http.Request) {
	if err := h.stats.InvalidateLeadStats(r.Context()); err != nil {
		log.Printf("[lead] InvalidateLeadStats error: %v", err)
	}
}
