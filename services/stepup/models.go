package stepup

import (
	"gorm.io/gorm"
)

type Enrollment struct {
	gorm.Model
	UserID  string `json:"user_id" gorm:"uniqueIndex;not null"`
	Secret  string `json:"-" gorm:"not null"`
	Enabled bool   `json:"enabled" gorm:"not null;default:false"`
}

// UsedCode prevents replay of an OTP within its validity window.
type UsedCode struct {
	gorm.Model
	UserID string `gorm:"index:idx_stepup_user_code,priority:1;not null"`
	Code   string `gorm:"index:idx_stepup_user_code,priority:2;not null"`
	UsedAt int64  `gorm:"index:idx_stepup_used_at;not null"`
}
