package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidKind        = errors.New("invalid user kind")
	ErrInvalidToken       = errors.New("invalid token")
)

// UserStore persists registered users. Missing users are reported as
// ledger.ErrEntityNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, after uuid.UUID, limit int) ([]*models.User, error)
}

// WalletProvisioner creates the wallet of a newly registered user.
type WalletProvisioner interface {
	ProvisionWallet(ctx context.Context, owner ledger.Owner) (*models.Wallet, error)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Kind   models.OwnerKind
}

// Owner is the caller's wallet reference.
func (i Identity) Owner() ledger.Owner {
	return ledger.UserOwner(i.UserID, i.Kind)
}

type Service interface {
	// Register signs up a tester or creator.
	Register(ctx context.Context, email, password, displayName string, kind models.OwnerKind) (*models.User, error)
	// CreateUser creates a user of any user-facing kind, admins included.
	CreateUser(ctx context.Context, email, password, displayName string, kind models.OwnerKind) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (Identity, error)
}

type service struct {
	users   UserStore
	wallets WalletProvisioner
	secret  []byte
	ttl     time.Duration
	logger  *slog.Logger
}

func NewService(users UserStore, wallets WalletProvisioner, secret string, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{users: users, wallets: wallets, secret: []byte(secret), ttl: 24 * time.Hour, logger: logger}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

func (s *service) Register(ctx context.Context, email, password, displayName string, kind models.OwnerKind) (*models.User, error) {
	if kind != models.OwnerTester && kind != models.OwnerCreator {
		return nil, ErrInvalidKind
	}
	return s.CreateUser(ctx, email, password, displayName, kind)
}

func (s *service) CreateUser(ctx context.Context, email, password, displayName string, kind models.OwnerKind) (*models.User, error) {
	if !kind.UserFacing() {
		return nil, ErrInvalidKind
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		DisplayName:  displayName,
		Kind:         kind,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	// A failure here leaves the user without a wallet until the next
	// backfill; lazily created kinds also get one on first use.
	if _, err := s.wallets.ProvisionWallet(ctx, ledger.UserOwner(u.ID, u.Kind)); err != nil {
		s.logger.ErrorContext(ctx, "wallet provisioning failed", "user_id", u.ID, "kind", u.Kind, "error", err)
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ledger.ErrEntityNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ID, u.Kind)
}

func (s *service) issueToken(userID uuid.UUID, kind models.OwnerKind) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Kind: string(kind),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	kind, err := models.ParseOwnerKind(c.Kind)
	if err != nil || !kind.UserFacing() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: id, Kind: kind}, nil
}
