// seed creates the bootstrap admin account. Idempotent: skips the insert if
// admin@local already exists. The password comes from ADMIN_PASSWORD; outside
// production a development default is used.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"authgate/internal/config"
	"authgate/internal/db"
	"authgate/internal/security"
	userdomain "authgate/internal/user/domain"
	"authgate/internal/user/repository"
)

const (
	adminEmail         = "admin@local"
	devDefaultPassword = "Admin123!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	password := cfg.AdminPassword
	if password == "" {
		if cfg.Env == "production" {
			log.Fatal("ADMIN_PASSWORD must be set in production")
		}
		password = devDefaultPassword
		log.Println("ADMIN_PASSWORD not set; using the development default")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := repository.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := users.GetByEmail(ctx, adminEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (admin@local exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(password))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	admin := &userdomain.User{
		ID:           uuid.NewString(),
		Email:        adminEmail,
		PasswordHash: passwordHash,
		Roles:        []string{"Admin", "User"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, admin); err != nil {
		log.Fatalf("create admin: %v", err)
	}

	log.Println("Seed completed successfully.")
	log.Printf("Admin login: %s", adminEmail)
}
