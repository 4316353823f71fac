package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cadence/api/internal/store"
)

type fakeUserStore struct {
	GetUserByEmailFn              func(ctx context.Context, email string) (store.User, error)
	CreateUserFn                  func(ctx context.Context, user store.User) error
	UpdateUserVerificationTokenFn func(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmailFn             func(ctx context.Context, token string) error
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.GetUserByEmailFn != nil {
		return f.GetUserByEmailFn(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	if f.CreateUserFn != nil {
		return f.CreateUserFn(ctx, user)
	}
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if f.UpdateUserVerificationTokenFn != nil {
		return f.UpdateUserVerificationTokenFn(ctx, userID, token, expiresAt)
	}
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if f.VerifyUserEmailFn != nil {
		return f.VerifyUserEmailFn(ctx, token)
	}
	return nil
}

func TestSignUp(t *testing.T) {
	t.Run("creates client user by default", func(t *testing.T) {
		var created store.User
		fs := &fakeUserStore{
			CreateUserFn: func(ctx context.Context, user store.User) error {
				created = user
				return nil
			},
		}
		svc := NewService(fs)

		resp, err := svc.SignUp(context.Background(), SignUpRequest{
			Email:       "Ana@Example.com",
			Password:    "supersecret",
			DisplayName: "Ana",
		})
		if err != nil {
			t.Fatalf("SignUp: %v", err)
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected RequiresEmailVerify")
		}
		if created.Role != "client" {
			t.Errorf("role = %q, want client", created.Role)
		}
		if created.Email != "ana@example.com" {
			t.Errorf("email not normalized: %q", created.Email)
		}
		if created.IsEmailVerified {
			t.Error("new user should not be verified")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("supersecret")); err != nil {
			t.Error("stored hash does not match password")
		}
	})

	t.Run("accepts provider role", func(t *testing.T) {
		var created store.User
		fs := &fakeUserStore{
			CreateUserFn: func(ctx context.Context, user store.User) error {
				created = user
				return nil
			},
		}
		svc := NewService(fs)

		if _, err := svc.SignUp(context.Background(), SignUpRequest{
			Email:       "pm@studio.dev",
			Password:    "supersecret",
			DisplayName: "PM",
			Role:        "provider",
		}); err != nil {
			t.Fatalf("SignUp: %v", err)
		}
		if created.Role != "provider" {
			t.Errorf("role = %q, want provider", created.Role)
		}
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		svc := NewService(&fakeUserStore{})
		_, err := svc.SignUp(context.Background(), SignUpRequest{
			Email:       "x@example.com",
			Password:    "supersecret",
			DisplayName: "X",
			Role:        "admin",
		})
		if err == nil {
			t.Fatal("expected error for unknown role")
		}
	})

	t.Run("rejects short password", func(t *testing.T) {
		svc := NewService(&fakeUserStore{})
		_, err := svc.SignUp(context.Background(), SignUpRequest{
			Email:       "x@example.com",
			Password:    "short",
			DisplayName: "X",
		})
		if err == nil {
			t.Fatal("expected error for short password")
		}
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		fs := &fakeUserStore{
			GetUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
				return store.User{ID: "usr-1"}, nil
			},
		}
		svc := NewService(fs)
		_, err := svc.SignUp(context.Background(), SignUpRequest{
			Email:       "taken@example.com",
			Password:    "supersecret",
			DisplayName: "X",
		})
		if err == nil {
			t.Fatal("expected error for duplicate email")
		}
	})
}

func TestSignIn(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("supersecret"), bcrypt.MinCost)
	verified := store.User{
		ID:              "usr-1",
		Email:           "ana@example.com",
		PasswordHash:    string(hash),
		Role:            "client",
		IsEmailVerified: true,
	}

	t.Run("succeeds with correct password", func(t *testing.T) {
		fs := &fakeUserStore{
			GetUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
				return verified, nil
			},
		}
		svc := NewService(fs)
		resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "ana@example.com", Password: "supersecret"})
		if err != nil {
			t.Fatalf("SignIn: %v", err)
		}
		if resp.RequiresVerify {
			t.Error("verified user should not require verification")
		}
		if resp.User.ID != "usr-1" {
			t.Errorf("user ID = %q", resp.User.ID)
		}
	})

	t.Run("fails with wrong password", func(t *testing.T) {
		fs := &fakeUserStore{
			GetUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
				return verified, nil
			},
		}
		svc := NewService(fs)
		if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "ana@example.com", Password: "wrong"}); err == nil {
			t.Fatal("expected error for wrong password")
		}
	})

	t.Run("fails for unknown email", func(t *testing.T) {
		svc := NewService(&fakeUserStore{})
		if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@example.com", Password: "supersecret"}); err == nil {
			t.Fatal("expected error for unknown email")
		}
	})

	t.Run("flags unverified user", func(t *testing.T) {
		unverified := verified
		unverified.IsEmailVerified = false
		fs := &fakeUserStore{
			GetUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
				return unverified, nil
			},
		}
		svc := NewService(fs)
		resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "ana@example.com", Password: "supersecret"})
		if err != nil {
			t.Fatalf("SignIn: %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("expected RequiresVerify for unverified user")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	t.Run("passes token to store", func(t *testing.T) {
		var got string
		fs := &fakeUserStore{
			VerifyUserEmailFn: func(ctx context.Context, token string) error {
				got = token
				return nil
			},
		}
		svc := NewService(fs)
		if err := svc.VerifyEmail(context.Background(), "tok-123"); err != nil {
			t.Fatalf("VerifyEmail: %v", err)
		}
		if got != "tok-123" {
			t.Errorf("token = %q", got)
		}
	})

	t.Run("rejects empty token", func(t *testing.T) {
		svc := NewService(&fakeUserStore{})
		if err := svc.VerifyEmail(context.Background(), "  "); err == nil {
			t.Fatal("expected error for empty token")
		}
	})

	t.Run("propagates store error", func(t *testing.T) {
		fs := &fakeUserStore{
			VerifyUserEmailFn: func(ctx context.Context, token string) error {
				return errors.New("expired")
			},
		}
		svc := NewService(fs)
		if err := svc.VerifyEmail(context.Background(), "tok-old"); err == nil {
			t.Fatal("expected error")
		}
	})
}
