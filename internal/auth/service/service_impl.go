package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	"github.com/smallbiznis/featuregate/internal/auth/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Accounts accountdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	accounts accountdomain.Repository
}

// New constructs a verifier backed by the users table. Credentials are
// compared by SHA-256 digest; plaintext tokens are never stored.
func New(p Params) domain.Verifier {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("auth.service"),
		accounts: p.Accounts,
	}
}

func (s *Service) Verify(ctx context.Context, credential string) (*domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, domain.ErrInvalidCredential
	}

	user, err := s.accounts.FindUserByTokenHash(ctx, s.db, HashToken(credential))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrInvalidCredential
	}

	return &domain.Identity{UserID: user.ID}, nil
}

// HashToken returns the hex SHA-256 digest of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
