package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"sales-crm/internal/apiserver/auth"
	"sales-crm/internal/shared/model"
	"sales-crm/internal/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBroadcaster 记录广播事件，供断言
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastLeadEvent(action string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, action)
}

func (b *recordingBroadcaster) actions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func newFixture(t *testing.T) (*Handler, *storage.MemoryStore, *recordingBroadcaster) {
	t.Helper()
	store := storage.NewMemoryStore()
	events := &recordingBroadcaster{}
	h := NewHandler(store, store, nil, events)
	return h, store, events
}

func seedAgent(t *testing.T, store *storage.MemoryStore, id, name string) *model.User {
	t.Helper()
	now := time.Now()
	user := &model.User{
		ID: id, Name: name, Email: name + "@example.com",
		PasswordHash: "x", Role: model.UserRoleUser,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func seedAdmin(t *testing.T, store *storage.MemoryStore) *model.User {
	t.Helper()
	now := time.Now()
	user := &model.User{
		ID: "usr-admin", Name: "Boss", Email: "boss@example.com",
		PasswordHash: "x", Role: model.UserRoleAdmin,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func seedLead(t *testing.T, store *storage.MemoryStore, phone string, assignedTo *string) *model.Lead {
	t.Helper()
	now := time.Now()
	lead := &model.Lead{
		ID: generateID("lead"), Name: "Lead " + phone, Phone: phone,
		Source: model.LeadSourceManual, Status: model.LeadStatusNew,
		AssignedTo: assignedTo, CreatedBy: "usr-admin",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateLead(context.Background(), lead))
	return lead
}

func asUser(req *http.Request, user *model.User) *http.Request {
	safe := *user
	safe.PasswordHash = ""
	return req.WithContext(auth.WithAuthUser(req.Context(), &safe))
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ============================================================================
// 创建：分配规则
// ============================================================================

// TestCreate_AssignmentRule 管理员创建进未分配池，坐席创建归本人
func TestCreate_AssignmentRule(t *testing.T) {
	h, store, events := newFixture(t)
	admin := seedAdmin(t, store)
	agent := seedAgent(t, store, "usr-agent1", "Asha")

	// 管理员 → 未分配
	req := asUser(httptest.NewRequest("POST", "/api/leads",
		jsonBody(t, CreateRequest{Name: "Pool Lead", Phone: "7000000001"})), admin)
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := store.GetLeadByPhone(context.Background(), "7000000001")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.AssignedTo)

	// 坐席 → 本人
	req = asUser(httptest.NewRequest("POST", "/api/leads",
		jsonBody(t, CreateRequest{Name: "Own Lead", Phone: "7000000002"})), agent)
	rec = httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err = store.GetLeadByPhone(context.Background(), "7000000002")
	require.NoError(t, err)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, agent.ID, *stored.AssignedTo)

	assert.Len(t, events.actions(), 2)
}

// TestCreate_Defaults 缺省来源 Manual、状态 New
func TestCreate_Defaults(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)

	req := asUser(httptest.NewRequest("POST", "/api/leads",
		jsonBody(t, CreateRequest{Name: "D", Phone: "7000000003"})), admin)
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, _ := store.GetLeadByPhone(context.Background(), "7000000003")
	assert.Equal(t, model.LeadSourceManual, stored.Source)
	assert.Equal(t, model.LeadStatusNew, stored.Status)
}

// TestCreate_DuplicatePhone 撞号返回 400
func TestCreate_DuplicatePhone(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	seedLead(t, store, "7000000004", nil)

	req := asUser(httptest.NewRequest("POST", "/api/leads",
		jsonBody(t, CreateRequest{Name: "Dup", Phone: "7000000004"})), admin)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Lead with this phone already exists", decode(t, rec)["message"])
}

// TestCreate_InvalidStatus 非法阶段返回 400
func TestCreate_InvalidStatus(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)

	req := asUser(httptest.NewRequest("POST", "/api/leads",
		jsonBody(t, CreateRequest{Name: "X", Phone: "7000000005", Status: "Frozen"})), admin)
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// 列表：可见性
// ============================================================================

// TestList_Visibility 管理员看全部，坐席只看自己的
func TestList_Visibility(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	agent := seedAgent(t, store, "usr-agent1", "Asha")
	other := seedAgent(t, store, "usr-agent2", "Vikram")

	seedLead(t, store, "1111111111", nil)
	seedLead(t, store, "2222222222", &agent.ID)
	seedLead(t, store, "3333333333", &other.ID)

	list := func(u *model.User) []interface{} {
		req := asUser(httptest.NewRequest("GET", "/api/leads", nil), u)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Len(t, list(admin), 3)
	assert.Len(t, list(agent), 1)
	assert.Len(t, list(other), 1)
}

// TestList_AssigneeJoined 归属坐席的姓名/邮箱联入响应
func TestList_AssigneeJoined(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	agent := seedAgent(t, store, "usr-agent1", "Asha")
	seedLead(t, store, "2222222222", &agent.ID)

	req := asUser(httptest.NewRequest("GET", "/api/leads", nil), admin)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var out []LeadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.NotNil(t, out[0].AssignedTo)
	assert.Equal(t, "Asha", out[0].AssignedTo.Name)
	assert.Equal(t, "Asha@example.com", out[0].AssignedTo.Email)
}

// ============================================================================
// 更新
// ============================================================================

// TestUpdate_StatusAndClaim 坐席更新未分配线索时自动认领
func TestUpdate_StatusAndClaim(t *testing.T) {
	h, store, _ := newFixture(t)
	agent := seedAgent(t, store, "usr-agent1", "Asha")
	lead := seedLead(t, store, "4444444444", nil)

	status := "Contacted"
	req := asUser(httptest.NewRequest("PUT", "/api/leads/"+lead.ID,
		jsonBody(t, UpdateRequest{Status: &status})), agent)
	req.SetPathValue("id", lead.ID)
	rec := httptest.NewRecorder()
	h.Update(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := store.GetLeadByID(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusContacted, stored.Status)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, agent.ID, *stored.AssignedTo)
	assert.True(t, stored.UpdatedAt.After(lead.UpdatedAt))
}

// TestUpdate_AdminDoesNotClaim 管理员更新未分配线索不触发认领
func TestUpdate_AdminDoesNotClaim(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	lead := seedLead(t, store, "4444444445", nil)

	name := "Renamed"
	req := asUser(httptest.NewRequest("PUT", "/api/leads/"+lead.ID,
		jsonBody(t, UpdateRequest{Name: &name})), admin)
	req.SetPathValue("id", lead.ID)
	rec := httptest.NewRecorder()
	h.Update(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := store.GetLeadByID(context.Background(), lead.ID)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Nil(t, stored.AssignedTo)
}

// TestUpdate_NotFound 未知 ID 返回 404
func TestUpdate_NotFound(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)

	req := asUser(httptest.NewRequest("PUT", "/api/leads/lead-missing",
		jsonBody(t, UpdateRequest{})), admin)
	req.SetPathValue("id", "lead-missing")
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Lead not found", decode(t, rec)["message"])
}

// TestUpdate_PhoneConflict 换号撞上他人号码返回 400
func TestUpdate_PhoneConflict(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	lead := seedLead(t, store, "5555555555", nil)
	seedLead(t, store, "6666666666", nil)

	phone := "6666666666"
	req := asUser(httptest.NewRequest("PUT", "/api/leads/"+lead.ID,
		jsonBody(t, UpdateRequest{Phone: &phone})), admin)
	req.SetPathValue("id", lead.ID)
	rec := httptest.NewRecorder()
	h.Update(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// failingPhoneLookup 包装存储层，电话查重固定报错
type failingPhoneLookup struct {
	storage.LeadStore
}

func (s *failingPhoneLookup) GetLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	return nil, errors.New("connection reset")
}

// TestUpdate_PhoneLookupError 换号查重失败返回 500 并留下日志
func TestUpdate_PhoneLookupError(t *testing.T) {
	_, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	lead := seedLead(t, store, "5151515151", nil)
	h := NewHandler(&failingPhoneLookup{LeadStore: store}, store, nil, nil)

	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	phone := "5252525252"
	req := asUser(httptest.NewRequest("PUT", "/api/leads/"+lead.ID,
		jsonBody(t, UpdateRequest{Phone: &phone})), admin)
	req.SetPathValue("id", lead.ID)
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "[lead] GetLeadByPhone error")
}

// ============================================================================
// 删除
// ============================================================================

// TestDelete_Idempotence 第二次删除同一 ID 返回 404
func TestDelete_Idempotence(t *testing.T) {
	h, store, _ := newFixture(t)
	admin := seedAdmin(t, store)
	lead := seedLead(t, store, "7777777777", nil)

	do := func() *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest("DELETE", "/api/leads/"+lead.ID, nil), admin)
		req.SetPathValue("id", lead.ID)
		rec := httptest.NewRecorder()
		h.Delete(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lead removed", decode(t, rec)["message"])
	assert.Equal(t, http.StatusNotFound, do().Code)
}

// ============================================================================
// 批量改派 / 批量删除
// ============================================================================

// TestAssign_BulkReassignment 批量改派
func TestAssign_BulkReassignment(t *testing.T) {
	h, store, events := newFixture(t)
	agent := seedAgent(t, store, "usr-agent1", "Asha")
	l1 := seedLead(t, store, "8000000001", nil)
	l2 := seedLead(t, store, "8000000002", nil)

	rec := httptest.NewRecorder()
	h.Assign(rec, httptest.NewRequest("PUT", "/api/leads/assign",
		jsonBody(t, AssignRequest{LeadIDs: []string{l1.ID, l2.ID, "lead-missing"}, AssignedTo: agent.ID})))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Leads assigned successfully", body["message"])
	assert.Equal(t, float64(2), body["modified"])

	stored, _ := store.GetLeadByID(context.Background(), l1.ID)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, agent.ID, *stored.AssignedTo)
	assert.Contains(t, events.actions(), "lead_assigned")
}

// TestAssign_Validation 空列表或空坐席返回 400，未知坐席 404
func TestAssign_Validation(t *testing.T) {
	h, store, _ := newFixture(t)
	seedLead(t, store, "8000000003", nil)

	rec := httptest.NewRecorder()
	h.Assign(rec, httptest.NewRequest("PUT", "/api/leads/assign",
		jsonBody(t, AssignRequest{})))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please select leads and an agent.", decode(t, rec)["message"])

	rec = httptest.NewRecorder()
	h.Assign(rec, httptest.NewRequest("PUT", "/api/leads/assign",
		jsonBody(t, AssignRequest{LeadIDs: []string{"lead-x"}, AssignedTo: "usr-ghost"})))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestBulkDelete_MissingIDsAreNoOp 批量删除：不存在的 ID 是空操作
func TestBulkDelete_MissingIDsAreNoOp(t *testing.T) {
	h, store, _ := newFixture(t)
	l1 := seedLead(t, store, "9000000001", nil)

	rec := httptest.NewRecorder()
	h.BulkDelete(rec, httptest.NewRequest("DELETE", "/api/leads/bulk-delete",
		jsonBody(t, BulkDeleteRequest{LeadIDs: []string{l1.ID, "lead-ghost"}})))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "Selected leads deleted successfully", body["message"])
	assert.Equal(t, float64(1), body["deleted"])

	// 全部不存在也不报错
	rec = httptest.NewRecorder()
	h.BulkDelete(rec, httptest.NewRequest("DELETE", "/api/leads/bulk-delete",
		jsonBody(t, BulkDeleteRequest{LeadIDs: []string{"lead-ghost"}})))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestBulkDelete_EmptySelection 空列表返回 400
func TestBulkDelete_EmptySelection(t *testing.T) {
	h, _, _ := newFixture(t)

	rec := httptest.NewRecorder()
	h.BulkDelete(rec, httptest.NewRequest("DELETE", "/api/leads/bulk-delete",
		jsonBody(t, BulkDeleteRequest{})))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No leads selected", decode(t, rec)["message"])
}

// ============================================================================
// 坐席列表 / 统计
// ============================================================================

// TestAgents_OnlyUserRole 坐席列表不含管理员
func TestAgents_OnlyUserRole(t *testing.T) {
	h, store, _ := newFixture(t)
	seedAdmin(t, store)
	seedAgent(t, store, "usr-agent1", "Asha")
	seedAgent(t, store, "usr-agent2", "Vikram")

	rec := httptest.NewRecorder()
	h.Agents(rec, httptest.NewRequest("GET", "/api/leads/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []AssigneeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Asha", out[0].Name)
	assert.Equal(t, "Vikram", out[1].Name)
}

// TestStats_Aggregation 统计聚合：阶段计数、未分配池、坐席成交榜
func TestStats_Aggregation(t *testing.T) {
	h, store, _ := newFixture(t)
	agent := seedAgent(t, store, "usr-agent1", "Asha")

	seedLead(t, store, "1000000001", nil)
	closed := seedLead(t, store, "1000000002", &agent.ID)
	closed.Status = model.LeadStatusClosed
	require.NoError(t, store.UpdateLead(context.Background(), closed))

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest("GET", "/api/leads/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.LeadStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Unassigned)
	assert.Equal(t, int64(1), stats.ByStatus["Closed"])
	require.Len(t, stats.ClosedByAgent, 1)
	assert.Equal(t, agent.ID, stats.ClosedByAgent[0].AgentID)
}
