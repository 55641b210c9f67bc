package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/signet-id/signet/internal/config"
	"github.com/signet-id/signet/internal/database"
	"github.com/signet-id/signet/internal/store"
)

// runCreateUser registers an end-user account from the command line,
// mainly for seeding a fresh deployment.
func runCreateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	email := fs.String("email", "", "email address (required)")
	phone := fs.String("phone", "", "phone number")
	name := fs.String("name", "", "display name")
	password := fs.String("password", "", "initial password (required)")
	verified := fs.Bool("verified", false, "mark the email as already verified")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" || *password == "" {
		fs.Usage()
		return fmt.Errorf("missing required flags -email and -password")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := store.New(db).CreateUser(ctx, store.User{
		ID:            uuid.Must(uuid.NewV7()),
		Email:         *email,
		EmailVerified: *verified,
		Phone:         *phone,
		Name:          *name,
		PasswordHash:  string(hash),
		Status:        store.UserStatusActive,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "user_id: %s\n", created.ID)
	return nil
}
