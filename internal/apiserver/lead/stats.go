package lead

import (
	"log"
	"net/http"

	"sales-crm/internal/shared/cache"
)

// Stats 管道统计（仪表盘/排行榜）
// GET /api/leads/stats
//
// 聚合结果在 Redis 中缓存 60 秒；未配置 Redis 时每次实时聚合。
// 线索写入路径会主动使缓存失效，60 秒只是兜底上限。
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	cached, err := h.stats.GetLeadStats(r.Context())
	if err != nil {
		// 缓存故障不阻塞统计，回源聚合
		log.Printf("[lead] GetLeadStats cache error: %v", err)
	}
	if cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.store.LeadStats(r.Context())
	if err != nil {
		log.Printf("[lead] LeadStats error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.stats.SetLeadStats(r.Context(), stats, cache.TTLLeadStats); err != nil {
		log.Printf("[lead] SetLeadStats cache error: %v", err)
	}
	writeJSON(w, http.StatusOK, stats)
}
