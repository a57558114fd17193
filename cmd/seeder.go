package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/salesdesk/crm-management/internal/auth"
	tokenmodel "github.com/salesdesk/crm-management/internal/core/datamodel/token"
	usermodel "github.com/salesdesk/crm-management/internal/core/datamodel/user"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with a demo tenant and its reporting chain for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		if clearData {
			if err := db.Exec("DELETE FROM refresh_tokens").Error; err != nil {
				log.Fatalf("failed to clear refresh tokens: %v", err)
			}
			if err := db.Exec("DELETE FROM users").Error; err != nil {
				log.Fatalf("failed to clear users: %v", err)
			}
			fmt.Println("Cleared existing users and refresh tokens")
		}

		hash, err := auth.HashPassword("password123", cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash seed password: %v", err)
		}

		const tenant = "acme"
		now := time.Now()

		seed := func(email, firstName, lastName string, role auth.Role, reportingTo *string) string {
			var existing usermodel.User
			if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
				fmt.Printf("user %s already exists, skipping\n", email)
				return existing.ID
			}

			id := uuid.NewString()
			row := &usermodel.User{
				ID:           id,
				Email:        email,
				FirstName:    firstName,
				LastName:     lastName,
				PasswordHash: hash,
				Role:         string(role),
				TenantID:     tenant,
				ReportingTo:  reportingTo,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := db.Create(row).Error; err != nil {
				log.Fatalf("failed to seed user %s: %v", email, err)
			}
			fmt.Printf("Seeded %s user: %s\n", role, email)
			return id
		}

		seed("root@salesdesk.example", "Root", "Admin", auth.RoleSuperAdmin, nil)
		adminID := seed("admin@acme.example", "Ada", "Admin", auth.RoleAdmin, nil)
		managerID := seed("bob@acme.example", "Bob", "Manager", auth.RoleSalesManager, &adminID)
		seed("alice@acme.example", "Alice", "Rep", auth.RoleSalesRep, &managerID)
		seed("carol@acme.example", "Carol", "Rep", auth.RoleSalesRep, &managerID)

		// Drop any refresh tokens that outlived a previous seed run.
		if err := db.Where("expires_at < ?", now).Delete(&tokenmodel.RefreshToken{}).Error; err != nil {
			log.Printf("failed to prune expired refresh tokens: %v", err)
		}

		fmt.Println("Seeding complete; all users authenticate with password123")
	},
}
