// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrManagementToken = errors.New("could not obtain an Auth0 management token")
	ErrUserLookup      = errors.New("could not look up user account")
)

// Auth0User is the slice of the Auth0 management API user record the
// notifier needs: a display name and an address to send to.
type Auth0User struct {
	UserID        string                 `json:"user_id"`
	Name          string                 `json:"name"`
	Email         string                 `json:"email"`
	EmailVerified bool                   `json:"email_verified"`
	UserMetaData  map[string]interface{} `json:"user_metadata"`
}

type managementToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

var (
	tokenMu     sync.Mutex
	cachedToken string
	tokenExpiry time.Time

	userMu    sync.RWMutex
	userCache = make(map[string]*Auth0User)
)

// managementAccessToken returns a client-credentials token for the Auth0
// management API, re-using the cached one until a minute before it expires.
func managementAccessToken() (string, error) {
	tokenMu.Lock()
	defer tokenMu.Unlock()

	if cachedToken != "" && time.Now().Before(tokenExpiry) {
		return cachedToken, nil
	}

	domain := viper.GetString("auth0.domain")
	subLog := log.With().Str("Domain", domain).Logger()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", viper.GetString("auth0.client_id"))
	form.Set("client_secret", viper.GetString("auth0.secret"))
	form.Set("audience", fmt.Sprintf("https://%s/api/v2/", domain))

	resp, err := http.Post(fmt.Sprintf("https://%s/oauth/token", domain),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		subLog.Error().Err(err).Msg("management token request failed")
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		subLog.Error().Err(err).Msg("could not read management token response")
		return "", ErrManagementToken
	}
	if resp.StatusCode >= 400 {
		subLog.Error().Int("StatusCode", resp.StatusCode).Bytes("Body", body).Msg("management token request refused")
		return "", ErrManagementToken
	}

	var token managementToken
	if err := json.Unmarshal(body, &token); err != nil {
		subLog.Error().Err(err).Bytes("Body", body).Msg("could not parse management token response")
		return "", ErrManagementToken
	}

	cachedToken = token.AccessToken
	tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	return cachedToken, nil
}

// GetAuth0User resolves userID against the Auth0 management API. Records
// are cached for the life of the process.
func GetAuth0User(userID string) (*Auth0User, error) {
	userMu.RLock()
	u, ok := userCache[userID]
	userMu.RUnlock()
	if ok {
		return u, nil
	}

	token, err := managementAccessToken()
	if err != nil {
		return nil, err
	}

	domain := viper.GetString("auth0.domain")
	subLog := log.With().Str("UserID", userID).Str("Domain", domain).Logger()
	subLog.Info().Msg("requesting user record from auth0")

	endpoint := fmt.Sprintf("https://%s/api/v2/users/%s", domain, url.QueryEscape(userID))
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		subLog.Error().Err(err).Msg("could not build user lookup request")
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		subLog.Error().Err(err).Msg("user lookup failed")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		subLog.Error().Err(err).Msg("could not read user lookup response")
		return nil, ErrUserLookup
	}
	if resp.StatusCode >= 400 {
		subLog.Error().Int("StatusCode", resp.StatusCode).Bytes("Body", body).Msg("user lookup refused")
		return nil, ErrUserLookup
	}

	user := &Auth0User{}
	if err := json.Unmarshal(body, user); err != nil {
		subLog.Error().Err(err).Bytes("Body", body).Msg("could not parse user record")
		return nil, ErrUserLookup
	}

	userMu.Lock()
	userCache[userID] = user
	userMu.Unlock()
	return user, nil
}
