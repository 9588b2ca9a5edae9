package auth

import (
	"strconv"
	"strings"

	"github.com/browserbridge/authcore/services/signing"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username string `json:"username" gorm:"uniqueIndex;not null"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Password string `json:"-" gorm:"not null"`
	Roles    string `json:"roles"`
}

// SubjectID is the stable identifier embedded in issued tokens.
func (u *User) SubjectID() string {
	return strconv.FormatUint(uint64(u.ID), 10)
}

func (u *User) RoleList() []string {
	if u.Roles == "" {
		return nil
	}
	parts := strings.Split(u.Roles, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

// ClientInfo carries the request context bound into issued tokens.
type ClientInfo struct {
	IP          string
	Fingerprint string
	ExtensionID string
}

// LoginResult is everything a transport handler needs to establish a session.
type LoginResult struct {
	User      *User
	SessionID string
	Tokens    *signing.TokenPair
	CSRFToken string
}
