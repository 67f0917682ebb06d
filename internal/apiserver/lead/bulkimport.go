package lead

import (
	"log"
	"net/http"
	"strings"
	"time"

	"sales-crm/internal/apiserver/auth"
	"sales-crm/internal/apiserver/board"
	"sales-crm/internal/shared/model"

	"github.com/xuri/excelize/v2"
)

// maxUploadSize 导入文件大小上限
const maxUploadSize = 10 << 20 // 10 MB

// BulkUpload Excel 批量导入
// POST /api/leads/upload（multipart，字段名 file）
//
// 列名大小写不敏感，支持别名：Phone/Mobile、Name/Full Name。
// 缺电话或姓名的行静默跳过；电话与库中已有线索撞号、或与本批
// 前面的行撞号，都计入 skipped。归属按上传者角色一次性决定，
// 整批线索进同一个池（管理员 → 未分配，坐席 → 本人）。
func (h *Handler) BulkUpload(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	workbook, err := excelize.OpenReader(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Excel file")
		return
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		writeError(w, http.StatusBadRequest, "Excel file has no sheets")
		return
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil || len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "Excel file is empty")
		return
	}

	columns := mapColumns(rows[0])

	// 归属一批一决：管理员导入进未分配池，坐席导入归本人
	assignee := computeAssignee(user)

	var (
		toInsert []*model.Lead
		skipped  int
		seen     = map[string]bool{} // 本批内去重
		now      = time.Now()
	)
	for _, row := range rows[1:] {
		phone := cellValue(row, columns["phone"])
		name := cellValue(row, columns["name"])
		if phone == "" || name == "" {
			continue
		}
		if seen[phone] {
			skipped++
			continue
		}
		seen[phone] = true

		existing, err := h.store.GetLeadByPhone(r.Context(), phone)
		if err != nil {
			log.Printf("[lead] GetLeadByPhone error during upload: %v", err)
			writeError(w, http.StatusInternalServerError, "Server Error during upload")
			return
		}
		if existing != nil {
			skipped++
			continue
		}

		source := cellValue(row, columns["source"])
		if source == "" {
			source = model.LeadSourceBulkUpload
		}
		status := model.LeadStatus(cellValue(row, columns["status"]))
		if !model.ValidLeadStatus(status) {
			status = model.LeadStatusNew
		}

		toInsert = append(toInsert, &model.Lead{
			ID:         generateID("lead"),
			Name:       name,
			Phone:      phone,
			Email:      cellValue(row, columns["email"]),
			Source:     source,
			Status:     status,
			AssignedTo: assignee,
			CreatedBy:  user.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if len(toInsert) > 0 {
		if err := h.store.InsertLeads(r.Context(), toInsert); err != nil {
			log.Printf("[lead] InsertLeads error: %v", err)
			writeError(w, http.StatusInternalServerError, "Server Error during upload")
			return
		}
	}

	log.Printf("[lead] Bulk upload by %s: added=%d skipped=%d", user.ID, len(toInsert), skipped)
	h.imports.RecordBulkImport(len(toInsert), skipped)
	h.invalidateStats(r)
	if len(toInsert) > 0 {
		h.events.BroadcastLeadEvent(board.ActionLeadCreated, map[string]int{"added": len(toInsert)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Upload Processed",
		"added":   len(toInsert),
		"skipped": skipped,
	})
}

// mapColumns 解析表头，返回逻辑字段 → 列下标
// 找不到的字段下标为 -1
func mapColumns(header []string) map[string]int {
	columns := map[string]int{"phone": -1, "name": -1, "email": -1, "source": -1, "status": -1}
	for i, cell := range header {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "phone", "mobile":
			if columns["phone"] == -1 {
				columns["phone"] = i
			}
		case "name", "full name":
			if columns["name"] == -1 {
				columns["name"] = i
			}
		case "email":
			if columns["email"] == -1 {
				columns["email"] = i
			}
		case "source":
			if columns["source"] == -1 {
				columns["source"] = i
			}
		case "status":
			if columns["status"] == -1 {
				columns["status"] = i
			}
		}
	}
	return columns
}

// cellValue 取指定列的值，越界或未映射返回空串
func cellValue(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}
