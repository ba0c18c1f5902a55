package services

import (
	"context"
	"testing"
	"time"

	"civic-hazard-backend/internal/apperr"
	"civic-hazard-backend/internal/models"
)

func newJWTService(secret string, ttl time.Duration) *UserService {
	return NewUserService(nil, nil, secret, ttl)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := newJWTService("test-secret", time.Hour)
	user := &models.User{ID: "user-1", Role: models.RoleAuthority}

	token, err := svc.GenerateJWT(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	id, role, err := svc.ValidateJWT(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id != "user-1" || role != models.RoleAuthority {
		t.Errorf("claims mismatch: %s/%s", id, role)
	}
}

func TestJWTWrongSecretRejected(t *testing.T) {
	token, err := newJWTService("secret-a", time.Hour).GenerateJWT(&models.User{ID: "u", Role: models.RoleCitizen})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, _, err := newJWTService("secret-b", time.Hour).ValidateJWT(token); err == nil {
		t.Fatal("token signed with another secret must fail validation")
	}
}

func TestJWTExpiredRejected(t *testing.T) {
	svc := newJWTService("test-secret", -time.Minute)
	token, err := svc.GenerateJWT(&models.User{ID: "u", Role: models.RoleCitizen})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, _, err := svc.ValidateJWT(token); err == nil {
		t.Fatal("expired token must fail validation")
	}
}

func TestJWTGarbageRejected(t *testing.T) {
	if _, _, err := newJWTService("s", time.Hour).ValidateJWT("not.a.jwt"); err == nil {
		t.Fatal("garbage token must fail validation")
	}
}

func TestRegisterPushTokenValidation(t *testing.T) {
	svc := newJWTService("s", time.Hour)

	err := svc.RegisterPushToken(context.Background(), "u", "", "ios")
	if apperr.From(err).StatusCode != 400 {
		t.Errorf("empty token should be 400, got %v", err)
	}

	err = svc.RegisterPushToken(context.Background(), "u", "tok", "blackberry")
	if apperr.From(err).StatusCode != 400 {
		t.Errorf("unknown platform should be 400, got %v", err)
	}
}

func TestUpdateRoleRequiresAdmin(t *testing.T) {
	svc := newJWTService("s", time.Hour)

	for _, role := range []models.Role{models.RoleCitizen, models.RoleAuthority} {
		err := svc.UpdateRole(context.Background(), role, "target", models.RoleAuthority)
		if apperr.From(err).StatusCode != 403 {
			t.Errorf("%s should get 403, got %v", role, err)
		}
	}

	err := svc.UpdateRole(context.Background(), models.RoleAdmin, "target", models.Role("superuser"))
	if apperr.From(err).StatusCode != 400 {
		t.Errorf("unknown role should be 400, got %v", err)
	}
}
