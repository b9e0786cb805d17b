package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/store"
	"golang.org/x/oauth2"
)

type gitHubUser struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type gitHubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type googleUser struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

type oauthProfile struct {
	Email string
	Name  string
}

const gitHubAPIVersion = "2022-11-28"

var oauthAPIs = map[string]struct {
	URL     string
	Headers map[string]string
}{
	"github": {
		URL: "https://api.github.com/user",
		Headers: map[string]string{
			"X-GitHub-Api-Version": gitHubAPIVersion,
		},
	},
	"google": {
		URL:     "https://openidconnect.googleapis.com/v1/userinfo",
		Headers: map[string]string{},
	},
}

const gitHubEmailsURL = "https://api.github.com/user/emails"

var oauthConfigsTemplate = map[string]*oauth2.Config{
	"github": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes: []string{"read:user", "user:email"},
	},
	"google": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"openid", "email", "profile"},
	},
}

func addOauthEndpointsAndScopes(oauthConfigs map[string]*oauth2.Config) (map[string]*oauth2.Config, error) {
	if oauthConfigs == nil {
		return map[string]*oauth2.Config{}, nil
	}
	for provider := range oauthConfigs {
		template, ok := oauthConfigsTemplate[provider]
		if !ok {
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
		oauthConfigs[provider].Endpoint = template.Endpoint
		oauthConfigs[provider].Scopes = template.Scopes
	}

	return oauthConfigs, nil
}

type OAuthParams struct {
	Provider string      `json:"provider" validate:"required,oneof=google github"`
	Code     string      `json:"code" validate:"required"`
	Role     models.Role `json:"role" validate:"required,oneof=student teacher"`
}

// OAuthLogin signs in with a provider code. Accounts are keyed by e-mail, so
// an address that signed up with a password can also use a provider.
func (s *Service) OAuthLogin(ctx context.Context, params OAuthParams) (models.User, string, error) {
	if err := validateStruct(params); err != nil {
		return models.User{}, "", err
	}

	profile, err := s.fetchOAuthProfile(ctx, params.Provider, params.Code)
	if err != nil {
		return models.User{}, "", fmt.Errorf("oauth failed: %w", err)
	}

	user, err := s.findOrCreateOAuthUser(ctx, params.Provider, profile, params.Role)
	if err != nil {
		return models.User{}, "", err
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

func (s *Service) findOrCreateOAuthUser(ctx context.Context, provider string, profile oauthProfile, role models.Role) (models.User, error) {
	user, err := s.Store.GetUser(ctx, profile.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrItemNotFound) {
		return models.User{}, err
	}

	user, err = s.Store.CreateUser(ctx, models.User{
		Email:    profile.Email,
		Name:     profile.Name,
		Role:     role,
		Provider: provider,
	})
	if errors.Is(err, store.ErrItemExists) {
		// a concurrent login created it first
		return s.Store.GetUser(ctx, profile.Email)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("create user failed: %w", err)
	}
	return user, nil
}

func (s *Service) fetchOAuthProfile(ctx context.Context, provider string, code string) (oauthProfile, error) {
	conf, ok := s.OAuthConfigs[provider]
	if !ok {
		return oauthProfile{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.Printf("OAuth exchange with %s failed: %v", provider, err)
		return oauthProfile{}, err
	}
	client := conf.Client(ctx, tok)

	api := oauthAPIs[provider]
	body, err := getJSON(ctx, client, api.URL, api.Headers)
	if err != nil {
		return oauthProfile{}, err
	}

	profile, err := parseProfile(body, provider)
	if err != nil {
		return oauthProfile{}, err
	}

	// GitHub leaves email null when the address is private
	if profile.Email == "" && provider == "github" {
		emails, err := getJSON(ctx, client, gitHubEmailsURL, api.Headers)
		if err != nil {
			return oauthProfile{}, err
		}
		profile.Email, err = primaryGitHubEmail(emails)
		if err != nil {
			return oauthProfile{}, err
		}
	}

	if profile.Email == "" {
		return oauthProfile{}, errors.New("provider returned no verified email")
	}
	profile.Email = normalizeEmail(profile.Email)
	return profile, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func parseProfile(jsonData []byte, provider string) (oauthProfile, error) {
	switch provider {
	case "github":
		var gh gitHubUser
		if err := json.Unmarshal(jsonData, &gh); err != nil {
			return oauthProfile{}, err
		}
		name := strings.TrimSpace(gh.Name)
		if name == "" {
			name = gh.Login
		}
		return oauthProfile{Email: gh.Email, Name: name}, nil

	case "google":
		var g googleUser
		if err := json.Unmarshal(jsonData, &g); err != nil {
			return oauthProfile{}, err
		}
		if !g.EmailVerified {
			return oauthProfile{Name: g.Name}, nil
		}
		return oauthProfile{Email: g.Email, Name: g.Name}, nil

	default:
		return oauthProfile{}, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func primaryGitHubEmail(jsonData []byte) (string, error) {
	var emails []gitHubEmail
	if err := json.Unmarshal(jsonData, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
