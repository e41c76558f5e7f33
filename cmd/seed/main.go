package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type seedProduct struct {
	name        string
	description string
	price       string
	stock       int
}

var demoProducts = []seedProduct{
	{"Wireless Mouse", "2.4G ergonomic mouse", "12.99", 25},
	{"USB-C Cable", "1 meter fast charging cable", "4.99", 100},
	{"Laptop Stand", "Adjustable aluminum stand", "19.99", 15},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	if err := seedProducts(ctx, db); err != nil {
		logger.Error("failed to seed products", "error", err)
		os.Exit(1)
	}
	logger.Info("products seeded", "count", len(demoProducts))

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		logger.Info("ADMIN_EMAIL/ADMIN_PASSWORD not set, skipping admin account")
		return
	}

	if err := seedAdmin(ctx, db, adminEmail, adminPassword); err != nil {
		logger.Error("failed to seed admin account", "error", err)
		os.Exit(1)
	}
	logger.Info("admin account ready", "email", adminEmail)
}

func seedProducts(ctx context.Context, db *sql.DB) error {
	// Replaces the demo catalog wholesale so reruns don't duplicate rows.
	if _, err := db.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return err
	}

	for _, p := range demoProducts {
		_, err := db.ExecContext(ctx, `
			INSERT INTO products (id, name, description, price, stock, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), p.name, p.description, decimal.RequireFromString(p.price), p.stock, time.Now().UTC())
		if err != nil {
			return err
		}
	}

	return nil
}

func seedAdmin(ctx context.Context, db *sql.DB, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, is_admin, created_at)
		VALUES ($1, 'Admin', $2, $3, TRUE, $4)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, is_admin = TRUE
	`, uuid.New().String(), email, string(hash), time.Now().UTC())
	return err
}
