/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth verifies the operator credential and issues the signed
// bearer tokens that gate the API. There is one static credential and
// no server-side session state; a token is valid iff its signature and
// expiry check out.
package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	jwt "github.com/dgrijalva/jwt-go/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
)

// CookieName is the session cookie set by form login.
const CookieName = "access_token"

// Authenticator verifies the static credential and signs tokens.
type Authenticator struct {
	username     string
	passwordHash []byte
	secretKey    []byte
	tokenTTL     time.Duration
}

func New(cfg config.Auth) *Authenticator {
	return &Authenticator{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		secretKey:    []byte(cfg.SecretKey),
		tokenTTL:     cfg.TokenTTL,
	}
}

// TokenTTL is the lifetime of issued tokens.
func (a *Authenticator) TokenTTL() time.Duration { return a.tokenTTL }

// Verify checks a credential pair. The password hash is verified on
// every attempt and the username is compared in constant time, so a
// wrong username costs the same as a wrong password.
func (a *Authenticator) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	return userOK && passErr == nil
}

// IssueToken signs a bearer token for the subject.
func (a *Authenticator) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Subject:   subject,
		IssuedAt:  jwt.At(now),
		ExpiresAt: jwt.At(now.Add(a.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature and expiry and returns the subject.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	claims := jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Subject, nil
}
