package token

import "time"

type RefreshToken struct {
	JTI       string    `gorm:"primaryKey;column:jti"`
	UserID    string    `gorm:"column:user_id;index;not null"`
	Token     string    `gorm:"column:token;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	LastUsed  time.Time `gorm:"column:last_used"`
}
