package model

import (
	"time"

	"mangosqueezy/internal/server/statemachine"
)

// Pipeline is one affiliate-campaign execution.
type Pipeline struct {
	ID             string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID     string             `gorm:"type:varchar(64);not null;index" json:"business_id"`
	ProductID      string             `gorm:"type:varchar(64);not null" json:"product_id"`
	AffiliateCount int                `gorm:"not null" json:"affiliate_count"`
	State          statemachine.State `gorm:"type:varchar(32);not null;index" json:"state"`
	// HeygenVideoID is empty until the video is ready, then never changes.
	HeygenVideoID   string    `gorm:"type:varchar(128);index" json:"heygen_video_id"`
	VideoURL        string    `gorm:"type:text" json:"video_url"`
	Remark          string    `gorm:"type:text" json:"remark"`
	Description     string    `gorm:"type:text" json:"description"`
	VideoScript     string    `gorm:"type:text" json:"video_script"`
	OutreachMessage string    `gorm:"type:text" json:"outreach_message"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PipelineUpdate carries the fields a state change may set alongside the new state.
// Empty strings leave the stored value untouched.
type PipelineUpdate struct {
	Remark        string
	HeygenVideoID string
	VideoURL      string
}
