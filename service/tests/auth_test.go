package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/service"
	"github.com/zlnvch/learnlink/store"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestSignUp_Success(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateUser", ctx, mock.MatchedBy(func(u models.User) bool {
		return u.Email == "ada@school.org" &&
			u.Name == "Ada" &&
			u.Role == models.RoleTeacher &&
			bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter22")) == nil
	})).Return(models.User{Id: "u1", Email: "ada@school.org", Name: "Ada", Role: models.RoleTeacher}, nil)

	user, token, err := svc.SignUp(ctx, service.SignUpParams{
		Email:    "  Ada@School.org ",
		Password: "hunter22",
		Name:     " Ada ",
		Role:     models.RoleTeacher,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Id)

	claims, err := svc.VerifyJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId)
	assert.Equal(t, "ada@school.org", claims.Email)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestSignUp_ValidationErrors(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)

	_, _, err := svc.SignUp(context.Background(), service.SignUpParams{
		Email:    "not-an-email",
		Password: "123",
		Name:     "   ",
		Role:     "admin",
	})

	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "role")
	mockStore.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestSignUp_PasswordTooLongInBytes(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)

	// 72 characters, 144 bytes
	_, _, err := svc.SignUp(context.Background(), service.SignUpParams{
		Email:    "ada@school.org",
		Password: strings.Repeat("é", 72),
		Name:     "Ada",
		Role:     models.RoleStudent,
	})

	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "password")
	mockStore.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestSignUp_EmailTaken(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateUser", ctx, mock.Anything).Return(models.User{}, store.ErrItemExists)

	_, _, err := svc.SignUp(ctx, service.SignUpParams{
		Email: "ada@school.org", Password: "hunter22", Name: "Ada", Role: models.RoleStudent,
	})
	assert.ErrorIs(t, err, service.ErrEmailTaken)
}

func TestLogin_Success(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	stored := models.User{Id: "u1", Email: "ada@school.org", Role: models.RoleStudent, PasswordHash: hashPassword(t, "hunter22")}
	mockStore.On("GetUser", ctx, "ada@school.org").Return(stored, nil)

	user, token, err := svc.Login(ctx, service.LoginParams{Email: "ADA@school.org", Password: "hunter22", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Id)
	assert.NotEmpty(t, token)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	stored := models.User{Id: "u1", Email: "ada@school.org", Role: models.RoleTeacher, PasswordHash: hashPassword(t, "hunter22")}
	mockStore.On("GetUser", ctx, "ada@school.org").Return(stored, nil)

	// wrong role too: the password failure must win
	_, _, err := svc.Login(ctx, service.LoginParams{Email: "ada@school.org", Password: "nope-nope", Role: models.RoleStudent})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUser", ctx, "ghost@school.org").Return(models.User{}, store.ErrItemNotFound)

	_, _, err := svc.Login(ctx, service.LoginParams{Email: "ghost@school.org", Password: "hunter22", Role: models.RoleStudent})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestLogin_RoleMismatch(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	stored := models.User{Id: "u1", Email: "ada@school.org", Role: models.RoleStudent, PasswordHash: hashPassword(t, "hunter22")}
	mockStore.On("GetUser", ctx, "ada@school.org").Return(stored, nil)

	_, _, err := svc.Login(ctx, service.LoginParams{Email: "ada@school.org", Password: "hunter22", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, service.ErrRoleMismatch)
}

func TestLogin_OAuthAccountHasNoPassword(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	stored := models.User{Id: "u1", Email: "ada@school.org", Role: models.RoleStudent, Provider: "google"}
	mockStore.On("GetUser", ctx, "ada@school.org").Return(stored, nil)

	_, _, err := svc.Login(ctx, service.LoginParams{Email: "ada@school.org", Password: "anything", Role: models.RoleStudent})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestCreateAndVerifyJWT(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)

	user := models.User{Id: "user123", Email: "ada@school.org", Role: models.RoleTeacher}

	token, err := svc.CreateJWT(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := svc.VerifyJWT(token)
	require.NoError(t, err)
	assert.Equal(t, user.Id, claims.UserId)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, user.Role, claims.Role)
	assert.True(t, claims.Expiry.After(time.Now()))
}

func TestVerifyJWT_Invalid(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)

	_, err := svc.VerifyJWT("invalid.token.string")
	assert.Error(t, err)

	_, err = svc.VerifyJWT("")
	assert.Error(t, err)
}

func TestVerifyJWT_InvalidSigningMethod(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)

	claims := jwt.MapClaims{
		"id":    "user123",
		"email": "ada@school.org",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.VerifyJWT(signed)
	assert.Error(t, err)
}

func TestVerifyJWT_ExpiredOrMissingExp(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id": "user123", "email": "ada@school.org", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.VerifyJWT(signed)
	assert.Error(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "user123", "email": "ada@school.org"})
	signed, err = noExp.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.VerifyJWT(signed)
	assert.Error(t, err)
}

func TestAuthenticateToken_Success(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", Email: "ada@school.org", Name: "Ada", Role: models.RoleTeacher}
	token, _ := svc.CreateJWT(user)

	mockStore.On("GetUser", ctx, user.Email).Return(user, nil)

	gotUser, err := svc.AuthenticateToken(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, user, gotUser)
}

func TestAuthenticateToken_UserNotFound(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", Email: "ada@school.org"}
	token, _ := svc.CreateJWT(user)

	mockStore.On("GetUser", ctx, user.Email).Return(models.User{}, store.ErrItemNotFound)

	_, err := svc.AuthenticateToken(ctx, token)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestAuthenticateToken_AccountRecreated(t *testing.T) {
	svc, mockStore, _, _, _, _ := setupService(t)
	ctx := context.Background()

	token, _ := svc.CreateJWT(models.User{Id: "old-id", Email: "ada@school.org"})
	mockStore.On("GetUser", ctx, "ada@school.org").Return(models.User{Id: "new-id", Email: "ada@school.org"}, nil)

	_, err := svc.AuthenticateToken(ctx, token)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestAuthenticateToken_EmptyToken(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)

	_, err := svc.AuthenticateToken(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestOAuthLogin_UnknownProvider(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)

	_, _, err := svc.OAuthLogin(context.Background(), service.OAuthParams{Provider: "gitlab", Code: "code", Role: models.RoleStudent})
	var verr *service.ValidationError
	assert.ErrorAs(t, err, &verr)

	// supported but not configured
	_, _, err = svc.OAuthLogin(context.Background(), service.OAuthParams{Provider: "google", Code: "code", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestOAuthLogin_TokenExchangeFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid_code",
		})
	}))
	defer server.Close()

	svc, mockStore, _, _, _, _ := setupService(t)
	svc.OAuthConfigs = map[string]*oauth2.Config{
		"github": {
			Endpoint: oauth2.Endpoint{
				AuthURL:  server.URL + "/auth",
				TokenURL: server.URL + "/token",
			},
			RedirectURL: "http://localhost/callback",
		},
	}

	_, _, err := svc.OAuthLogin(context.Background(), service.OAuthParams{Provider: "github", Code: "invalid_code", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "oauth failed"))
	mockStore.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestNewService_RejectsUnsupportedOAuthProvider(t *testing.T) {
	_, err := service.NewService(nil, nil, nil, nil, nil, service.Options{
		JWTSecret:    []byte("secret"),
		OAuthConfigs: map[string]*oauth2.Config{"myspace": {}},
	})
	assert.Error(t, err)

	_, err = service.NewService(nil, nil, nil, nil, nil, service.Options{})
	assert.Error(t, err)
}

func TestDeleteUser_Success(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _, _ := setupService(t)
	ctx := context.Background()
	user := models.User{Id: "user1", Email: "ada@school.org"}

	mockStore.On("DeleteUser", ctx, "ada@school.org").Return(nil)

	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, "user-deleted", mock.MatchedBy(func(b []byte) bool {
		return strings.Contains(string(b), `"userId":"user1"`)
	})).Return(nil))

	var sent string
	sendCall := mockMQ.On("Send", mock.Anything, mock.Anything).Return(nil)
	sendDone := make(chan struct{})
	sendCall.Run(func(args mock.Arguments) {
		sent = args.String(1)
		close(sendDone)
	})

	err := svc.DeleteUser(ctx, user)
	assert.NoError(t, err)

	waitFor(t, publishDone)
	waitFor(t, sendDone)
	assert.JSONEq(t, `{"kind":"user","userId":"user1"}`, sent)
}

func TestDeleteUser_StoreFails(t *testing.T) {
	svc, mockStore, mockCache, mockMQ, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("DeleteUser", ctx, "ada@school.org").Return(errors.New("dynamo down"))

	err := svc.DeleteUser(ctx, models.User{Id: "user1", Email: "ada@school.org"})
	assert.Error(t, err)
	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	mockMQ.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
