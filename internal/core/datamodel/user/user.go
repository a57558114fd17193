package user

import "time"

type User struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	FirstName    string    `gorm:"column:first_name;not null"`
	LastName     string    `gorm:"column:last_name"`
	PhoneNumber  string    `gorm:"column:phone_number"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	Role         string    `gorm:"column:role;not null"`
	TenantID     string    `gorm:"column:tenant_id;index;not null"`
	ReportingTo  *string   `gorm:"column:reporting_to;index"`
	IsDeleted    bool      `gorm:"column:is_deleted;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}
