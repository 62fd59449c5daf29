// Package auth проверяет токены провайдера идентичности.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/bojiang/toy-tunnel/internal/models"
)

// Identity: то, что ядру нужно от токена.
type Identity struct {
	Subject string
	Email   string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// OIDC проверяет ID-токены по JWKS провайдера.
// Firebase: issuer https://securetoken.google.com/<project-id>, client id = project id.
type OIDC struct {
	v *oidc.IDTokenVerifier
}

func NewOIDC(ctx context.Context, issuer, clientID string) (*OIDC, error) {
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", issuer, err)
	}
	return &OIDC{v: p.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (o *OIDC) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", models.ErrUnauthenticated)
	}
	tok, err := o.v.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthenticated, err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %w", models.ErrUnauthenticated, err)
	}
	return &Identity{Subject: tok.Subject, Email: claims.Email}, nil
}

// EmailAllowed: домен почты совпадает с suffix; пустой suffix пускает всех.
func EmailAllowed(email, suffix string) bool {
	if suffix == "" {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return strings.EqualFold(email[at+1:], strings.TrimPrefix(suffix, "@"))
}
