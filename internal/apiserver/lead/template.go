package lead

import (
	"log"
	"net/http"

	"github.com/xuri/excelize/v2"
)

// templateSheet 模板工作表名
const templateSheet = "Leads Template"

// templateRows 模板内容：表头 + 两行示例数据
var templateRows = [][]interface{}{
	{"Name", "Phone", "Email", "Source", "Status"},
	{"Amit Kumar", "9999999999", "amit@test.com", "Facebook", "New"},
	{"Priya Sharma", "8888888888", "priya@gmail.com", "Website", "Interested"},
}

// Template 下载导入模板
// GET /api/leads/template
func (h *Handler) Template(w http.ResponseWriter, r *http.Request) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	index, err := workbook.NewSheet(templateSheet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not generate template")
		return
	}
	workbook.SetActiveSheet(index)
	workbook.DeleteSheet("Sheet1")

	for i, row := range templateRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Could not generate template")
			return
		}
		if err := workbook.SetSheetRow(templateSheet, cell, &row); err != nil {
			writeError(w, http.StatusInternalServerError, "Could not generate template")
			return
		}
	}

	w.Header().Set("Content-Disposition", `attachment; filename="CRM_Leads_Template.xlsx"`)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := workbook.Write(w); err != nil {
		log.Printf("[lead] Template write error: %v", err)
	}
}
