// Package seed grants the first global owner on boot so a fresh installation
// is administrable.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/d9705996/clientpulse/internal/auth"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
)

// OwnerOptions configures the seed owner.
type OwnerOptions struct {
	Email    string
	Password string // if empty, a random password is generated

	// Out receives the generated password. Defaults to os.Stdout.
	Out io.Writer
}

// EnsureOwner makes sure at least one global owner exists. When none does,
// the principal with opts.Email is created (or reused) and granted the owner
// role. It is safe to call on every startup and from several instances.
func EnsureOwner(ctx context.Context, st *store.Store, engine *policy.Engine, opts OwnerOptions, log *slog.Logger) error {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" {
		return errors.New("seed owner email is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var created bool
	err := engine.WithGrantTx(ctx, func(tx *policy.GrantTx) error {
		n, err := tx.Store().CountOwners(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		p, err := tx.Store().GetPrincipalByEmail(ctx, email)
		switch {
		case errors.Is(err, store.ErrPrincipalNotFound):
			p, err = newPrincipal(ctx, tx.Store(), email, opts.Password, out)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if _, err := tx.Apply(ctx, p.ID, nil, model.RoleOwner); err != nil {
			return fmt.Errorf("grant seed owner: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return err
	}

	if created {
		log.InfoContext(ctx, "seed owner granted", "email", email)
	} else {
		log.InfoContext(ctx, "seed owner already exists")
	}
	return nil
}

func newPrincipal(ctx context.Context, st *store.Store, email, password string, out io.Writer) (model.Principal, error) {
	if password == "" {
		var err error
		password, err = generatePassword()
		if err != nil {
			return model.Principal{}, fmt.Errorf("generate seed password: %w", err)
		}
		// Print the generated password exactly once.
		_, _ = fmt.Fprintf(out, "[clientpulse] seed owner password: %s\n", password)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return model.Principal{}, err
	}
	p := model.Principal{Email: email, Name: "Seed Owner", PasswordHash: hash}
	if err := st.CreatePrincipal(ctx, &p); err != nil {
		return model.Principal{}, fmt.Errorf("insert seed owner: %w", err)
	}
	return p, nil
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
