package lead

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应（统一使用 message 字段）
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// generateID 生成带前缀的随机 ID
// 格式：prefix-xxxxxxxxxxxx（prefix + 12 字符 hex）
func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// Broadcaster 线索事件接收方（看板 WebSocket 集线器实现此接口）
type Broadcaster interface {
	BroadcastLeadEvent(action string, payload interface{})
}

// noopBroadcaster 未接入看板时的空实现
type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastLeadEvent(action string, payload interface{}) {}

// ImportRecorder 批量导入指标接收方（server 包的 Metrics 实现此接口）
type ImportRecorder interface {
	RecordBulkImport(added, skipped int)
}

// noopRecorder 未接入指标时的空实现
type noopRecorder struct{}

func (noopRecorder) RecordBulkImport(added, skipped int) {}
