package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid or expired session")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

// User is an account that can sign in
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserStore persists users
type UserStore interface {
	// CreateUser stores a new user, returning ErrUserExists on a duplicate email
	CreateUser(ctx context.Context, user *User) error
	// GetUserByEmail returns ErrUserNotFound when no user has the email
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Claims is what a valid session token says about its holder
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Admin  bool   `json:"admin"`
}

// Session is returned on a successful login
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Claims
}

// Config holds the authentication settings
type Config struct {
	Secret     string
	TTL        time.Duration
	AdminEmail string
	// HashCost is the bcrypt cost, bcrypt.DefaultCost when zero
	HashCost int
}

// Service signs users up and in, and validates their sessions
type Service struct {
	store UserStore
	cfg   Config
	now   func() time.Time
	// dummyHash is compared against when the email is unknown so a failed
	// login costs the same either way
	dummyHash []byte
}

// NewService creates a new Service
func NewService(store UserStore, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	cfg.AdminEmail = NormalizeEmail(cfg.AdminEmail)

	dummyHash, err := bcrypt.GenerateFromPassword([]byte("invoice-scanner"), cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hashing placeholder password: %w", err)
	}
	return &Service{store: store, cfg: cfg, now: time.Now, dummyHash: dummyHash}, nil
}

// NewServiceWithClock creates a new Service with a custom clock for testing
func NewServiceWithClock(store UserStore, cfg Config, now func() time.Time) (*Service, error) {
	s, err := NewService(store, cfg)
	if err != nil {
		return nil, err
	}
	s.now = now
	return s, nil
}

// NormalizeEmail trims and lowercases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsAdmin reports whether email is the configured administrator
func (s *Service) IsAdmin(email string) bool {
	return s.cfg.AdminEmail != "" && NormalizeEmail(email) == s.cfg.AdminEmail
}

// SignUp creates a new user
func (s *Service) SignUp(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// Login checks credentials and issues a session token
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.TTL)
	claims := Claims{UserID: user.ID, Email: user.Email, Admin: s.IsAdmin(user.Email)}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   claims.UserID,
		"email": claims.Email,
		"admin": claims.Admin,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &Session{Token: signed, ExpiresAt: expiresAt, Claims: claims}, nil
}

// Validate parses a session token. Admin rights are recomputed from the
// configured admin email rather than trusted from the token.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if userID == "" || email == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{UserID: userID, Email: email, Admin: s.IsAdmin(email)}, nil
}
