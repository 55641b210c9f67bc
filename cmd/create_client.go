package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/signet-id/signet/internal/config"
	"github.com/signet-id/signet/internal/database"
	"github.com/signet-id/signet/internal/store"
	"github.com/signet-id/signet/internal/util"
)

const clientSecretLength = 48

// runCreateClient registers an OAuth client from the command line. The
// plaintext secret is printed exactly once; only the bcrypt hash is stored.
func runCreateClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-client", flag.ExitOnError)
	name := fs.String("name", "", "human readable client name (required)")
	redirectURIs := fs.String("redirect-uris", "", "comma separated redirect URIs")
	grants := fs.String("grants", store.GrantAuthorizationCode+","+store.GrantRefreshToken, "comma separated allowed grant types")
	scopes := fs.String("scopes", "openid profile email", "space separated allowed scopes")
	public := fs.Bool("public", false, "register a public client without a secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		fs.Usage()
		return fmt.Errorf("missing required flag -name")
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

	clientID, err := store.NewClientID()
	if err != nil {
		return err
	}

	client := store.Client{
		ID:            uuid.Must(uuid.NewV7()),
		ClientID:      clientID,
		Name:          *name,
		RedirectURIs:  splitList(*redirectURIs, ","),
		AllowedGrants: splitList(*grants, ","),
		AllowedScopes: strings.Fields(*scopes),
		IsPublic:      *public,
		Status:        store.ClientStatusActive,
	}

	var secret string
	if !*public {
		secret, err = util.GenerateRandomString(clientSecretLength)
		if err != nil {
			return fmt.Errorf("failed to generate client secret: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.ClientSecretHash = string(hash)
	}

	created, err := store.New(db).CreateClient(ctx, client)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "client_id: %s\n", created.ClientID)
	if !*public {
		fmt.Fprintf(os.Stdout, "client_secret: %s\n", secret)
		fmt.Fprintln(os.Stdout, "store the secret now, it is not recoverable")
	}
	return nil
}

func splitList(value, sep string) []string {
	var out []string
	for _, part := range strings.Split(value, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
