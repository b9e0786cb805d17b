package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/store"
	"github.com/zlnvch/learnlink/worker"
	"golang.org/x/crypto/bcrypt"
)

const maxPasswordBytes = 72

type SignUpParams struct {
	Email    string      `json:"email" validate:"required,email,max=254"`
	Password string      `json:"password" validate:"required,min=6,max=72"`
	Name     string      `json:"name" validate:"required,max=100"`
	Role     models.Role `json:"role" validate:"required,oneof=student teacher"`
}

type LoginParams struct {
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required"`
	Role     models.Role `json:"role" validate:"required,oneof=student teacher"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) SignUp(ctx context.Context, params SignUpParams) (models.User, string, error) {
	params.Email = normalizeEmail(params.Email)
	params.Name = strings.TrimSpace(params.Name)
	if err := validateStruct(params); err != nil {
		return models.User{}, "", err
	}
	// validator counts runes, bcrypt counts bytes
	if len(params.Password) > maxPasswordBytes {
		return models.User{}, "", newValidationError("password", "must be at most 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.Store.CreateUser(ctx, models.User{
		Email:        params.Email,
		Name:         params.Name,
		Role:         params.Role,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, store.ErrItemExists) {
			return models.User{}, "", ErrEmailTaken
		}
		return models.User{}, "", fmt.Errorf("create user failed: %w", err)
	}

	token, err := s.CreateJWT(user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}
	return user, token, nil
}

// Login checks the password before the role so a wrong password never
// reveals which role an email is registered with.
func (s *Service) Login(ctx context.Context, params LoginParams) (models.User, string, error) {
	params.Email = normalizeEmail(params.Email)
	if err := validateStruct(params); err != nil {
		return models.User{}, "", err
	}

	user, err := s.Store.GetUser(ctx, params.Email)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, "", ErrInvalidCredentials
		}
		return models.User{}, "", err
	}

	// oauth-only accounts have no password
	if user.PasswordHash == "" {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(params.Password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	if user.Role != params.Role {
		return models.User{}, "", ErrRoleMismatch
	}

	token, err := s.CreateJWT(user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}
	return user, token, nil
}

type TokenClaims struct {
	UserId string
	Email  string
	Role   models.Role
	Expiry time.Time
}

func (s *Service) CreateJWT(user models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":    user.Id,
		"email": user.Email,
		"role":  string(user.Role),
		"exp":   now.Add(s.TokenTTL).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.JWTSecret)
}

func (s *Service) VerifyJWT(tokenString string) (TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return TokenClaims{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return TokenClaims{}, errors.New("invalid token claims")
	}

	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return TokenClaims{}, errors.New("missing id claim")
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return TokenClaims{}, errors.New("missing email claim")
	}

	role, _ := claims["role"].(string)

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return TokenClaims{}, errors.New("missing exp claim")
	}

	return TokenClaims{
		UserId: id,
		Email:  email,
		Role:   models.Role(role),
		Expiry: expiry.Time,
	}, nil
}

// AuthenticateToken resolves a bearer token to its account. The role is
// always read from the store, never trusted from the token.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, fmt.Errorf("%w: token not provided", ErrUnauthorized)
	}

	claims, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user, err := s.Store.GetUser(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return models.User{}, err
	}

	// the email was deleted and registered again
	if user.Id != claims.UserId {
		return models.User{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
	}

	return user, nil
}

type UserDeletedMessage struct {
	UserId string `json:"userId"`
}

func (s *Service) DeleteUser(ctx context.Context, user models.User) error {
	if err := s.Store.DeleteUser(ctx, user.Email); err != nil {
		return err
	}

	// Async side-effects - return to caller as soon as the store operation is done
	go func() {
		if msgBytes, err := json.Marshal(UserDeletedMessage{UserId: user.Id}); err == nil {
			if err := s.Cache.Publish(context.Background(), cache.UserDeletedChannel, msgBytes); err != nil {
				log.Printf("Failed to publish user deletion for %s: %v", user.Id, err)
			}
		}

		s.queuePurge(worker.PurgeJob{Kind: worker.PurgeUser, UserId: user.Id})
	}()

	return nil
}

func (s *Service) queuePurge(job worker.PurgeJob) {
	body, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.MQ.Send(context.Background(), string(body)); err != nil {
		log.Printf("Failed to queue %s purge: %v", job.Kind, err)
	}
}
