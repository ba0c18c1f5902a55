package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civic-hazard-backend/internal/apperr"
	"civic-hazard-backend/internal/models"
	"civic-hazard-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserService handles accounts, credentials and device registration.
type UserService struct {
	userRepo  *repository.UserRepository
	tokenRepo *repository.PushTokenRepository
	jwtSecret string
	tokenTTL  time.Duration
}

// NewUserService creates a new user service
func NewUserService(userRepo *repository.UserRepository, tokenRepo *repository.PushTokenRepository, jwtSecret string, tokenTTL time.Duration) *UserService {
	return &UserService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// Register creates a citizen account and returns it with a session token.
func (s *UserService) Register(ctx context.Context, email, password, name string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", apperr.Validation("a valid email is required", map[string]string{"email": "invalid"})
	}
	if len(password) < 8 {
		return nil, "", apperr.Validation("password must be at least 8 characters", map[string]string{"password": "too short"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		Role:         models.RoleCitizen,
		CreatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, "", apperr.Conflict("email already registered")
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.GenerateJWT(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies credentials and returns the user with a session token.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", apperr.Unauthorized("invalid credentials")
		}
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", apperr.Unauthorized("invalid credentials")
	}

	token, err := s.GenerateJWT(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// GenerateJWT generates a signed token carrying the user's id and role.
func (s *UserService) GenerateJWT(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"role":    string(user.Role),
		"exp":     time.Now().Add(s.tokenTTL).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWT validates a token and returns the user id and role it carries.
func (s *UserService) ValidateJWT(tokenString string) (string, models.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", "", fmt.Errorf("user_id not found in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", "", fmt.Errorf("role not found in token")
	}
	role := models.Role(roleStr)
	if !role.Valid() {
		return "", "", fmt.Errorf("unknown role in token")
	}
	return userID, role, nil
}

// RegisterPushToken upserts a device token for the user.
func (s *UserService) RegisterPushToken(ctx context.Context, userID, deviceToken, platform string) error {
	if deviceToken == "" {
		return apperr.Validation("token is required", map[string]string{"token": "required"})
	}
	if platform != "ios" && platform != "android" {
		return apperr.Validation("platform must be ios or android", map[string]string{"platform": "invalid"})
	}

	now := time.Now()
	return s.tokenRepo.Upsert(ctx, &models.PushToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     deviceToken,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// UpdateRole changes a user's role. Only admins may call this; role is
// otherwise immutable.
func (s *UserService) UpdateRole(ctx context.Context, actorRole models.Role, targetID string, role models.Role) error {
	if actorRole != models.RoleAdmin {
		return apperr.Forbidden("role changes require admin access")
	}
	if !role.Valid() {
		return apperr.Validation("unknown role", map[string]string{"role": "invalid"})
	}
	if err := s.userRepo.UpdateRole(ctx, targetID, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}
