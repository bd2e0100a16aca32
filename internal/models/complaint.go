package models

import "gorm.io/gorm"

type Complaint struct {
	gorm.Model
	ReporterID     string `gorm:"index" json:"reporter_id"`
	ReportedUserID string `gorm:"index" json:"reported_user_id"`
	ChatID         string `json:"chat_id"`
	ComplaintType  string `json:"complaint_type"` // "Low", "Medium", "Critical"
	Reason         string `json:"reason"`
	Status         string `json:"status"` // "new", "confirmed", "rejected"
}
