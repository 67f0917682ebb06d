package model

import "time"

// LeadStatus 线索在销售管道中的阶段
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "New"
	LeadStatusContacted  LeadStatus = "Contacted"
	LeadStatusInterested LeadStatus = "Interested"
	LeadStatusClosed     LeadStatus = "Closed"
	LeadStatusLost       LeadStatus = "Lost"
)

// ValidLeadStatus 校验管道阶段取值
func ValidLeadStatus(s LeadStatus) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusInterested, LeadStatusClosed, LeadStatusLost:
		return true
	}
	return false
}

// 线索来源常用取值（source 字段容忍自由文本，这些只是约定值）
const (
	LeadSourceWebsite    = "Website"
	LeadSourceFacebook   = "Facebook"
	LeadSourceReferral   = "Referral"
	LeadSourceManual     = "Manual"
	LeadSourceBulkUpload = "Bulk Upload"
)

// Lead 销售线索
//
// Phone 是自然去重键：创建和批量导入时按精确匹配检查，但存储层不建唯一索引。
// AssignedTo 为 nil 表示线索在"未分配池"中，只有管理员创建/导入的线索会进入该池。
type Lead struct {
	ID         string     `json:"id" bson:"_id"`
	Name       string     `json:"name" bson:"name"`
	Phone      string     `json:"phone" bson:"phone"`
	Email      string     `json:"email,omitempty" bson:"email,omitempty"`
	Source     string     `json:"source" bson:"source"`
	Status     LeadStatus `json:"status" bson:"status"`
	AssignedTo *string    `json:"assigned_to" bson:"assigned_to"`
	CreatedBy  string     `json:"created_by" bson:"created_by"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
}

// Unassigned 线索是否在未分配池中
func (l *Lead) Unassigned() bool {
	return l.AssignedTo == nil || *l.AssignedTo == ""
}
