package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestParseProfile_GitHub(t *testing.T) {
	profile, err := parseProfile([]byte(`{"login":"octo","name":"","email":"octo@example.com"}`), "github")
	require.NoError(t, err)
	assert.Equal(t, "octo", profile.Name)
	assert.Equal(t, "octo@example.com", profile.Email)

	profile, err = parseProfile([]byte(`{"login":"octo","name":"Octo Cat","email":null}`), "github")
	require.NoError(t, err)
	assert.Equal(t, "Octo Cat", profile.Name)
	assert.Empty(t, profile.Email)
}

func TestParseProfile_GoogleRequiresVerifiedEmail(t *testing.T) {
	profile, err := parseProfile([]byte(`{"email":"ada@school.org","email_verified":true,"name":"Ada"}`), "google")
	require.NoError(t, err)
	assert.Equal(t, "ada@school.org", profile.Email)

	profile, err = parseProfile([]byte(`{"email":"ada@school.org","email_verified":false,"name":"Ada"}`), "google")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
	assert.Equal(t, "Ada", profile.Name)
}

func TestParseProfile_Errors(t *testing.T) {
	_, err := parseProfile([]byte(`{`), "github")
	assert.Error(t, err)

	_, err = parseProfile([]byte(`{}`), "gitlab")
	assert.Error(t, err)
}

func TestPrimaryGitHubEmail(t *testing.T) {
	email, err := primaryGitHubEmail([]byte(`[
		{"email":"old@example.com","primary":false,"verified":true},
		{"email":"unverified@example.com","primary":true,"verified":false},
		{"email":"main@example.com","primary":true,"verified":true}
	]`))
	require.NoError(t, err)
	assert.Equal(t, "main@example.com", email)

	email, err = primaryGitHubEmail([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, email)

	_, err = primaryGitHubEmail([]byte(`{}`))
	assert.Error(t, err)
}

func TestAddOauthEndpointsAndScopes(t *testing.T) {
	configs, err := addOauthEndpointsAndScopes(map[string]*oauth2.Config{
		"github": {ClientID: "id", ClientSecret: "secret"},
	})
	require.NoError(t, err)
	require.Contains(t, configs, "github")
	assert.Equal(t, "https://github.com/login/oauth/access_token", configs["github"].Endpoint.TokenURL)
	assert.Contains(t, configs["github"].Scopes, "user:email")

	_, err = addOauthEndpointsAndScopes(map[string]*oauth2.Config{"gitlab": {}})
	assert.Error(t, err)
}
