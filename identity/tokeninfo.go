// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package identity

import (
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType classifies an external identity token string.
type TokenType string

const (
	TokenTypeJWT     TokenType = "jwt"
	TokenTypeDID     TokenType = "did"
	TokenTypeURL     TokenType = "url"
	TokenTypeAPIKey  TokenType = "api_key"
	TokenTypeUnknown TokenType = "unknown"
)

var (
	didPattern = regexp.MustCompile(`(?i)^did:[a-z0-9]+:.+$`)
	urlPattern = regexp.MustCompile(`(?i)^https?://.+$`)
	jwtPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
	// API keys: hex >= 32 chars, or mixed-case alphanumeric with dashes and
	// underscores >= 32 chars.
	hexKeyPattern   = regexp.MustCompile(`^[A-Fa-f0-9]{32,}$`)
	mixedKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{32,}$`)
)

// DetectTokenType classifies a token string by shape. A JWT-shaped string
// that fails to parse falls through to the remaining classifiers.
func DetectTokenType(token string) TokenType {
	token = strings.TrimSpace(token)

	if didPattern.MatchString(token) {
		return TokenTypeDID
	}
	if jwtPattern.MatchString(token) {
		if _, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
			return TokenTypeJWT
		}
	}
	if urlPattern.MatchString(token) {
		return TokenTypeURL
	}
	if hexKeyPattern.MatchString(token) {
		return TokenTypeAPIKey
	}
	if mixedKeyPattern.MatchString(token) &&
		strings.ToLower(token) != token && strings.ToUpper(token) != token {
		return TokenTypeAPIKey
	}
	return TokenTypeUnknown
}

// ExtractTokenInfo pulls identity metadata out of an external token. JWTs are
// parsed without signature verification: the fields inform bridging, they are
// never trusted for authorization. API keys are masked, never stored whole.
func ExtractTokenInfo(token string) map[string]any {
	token = strings.TrimSpace(token)
	tokenType := DetectTokenType(token)
	info := map[string]any{
		"token_type": string(tokenType),
	}

	switch tokenType {
	case TokenTypeJWT:
		parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
		if err != nil {
			return info
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return info
		}
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			info["subject"] = sub
		}
		if iss, err := claims.GetIssuer(); err == nil && iss != "" {
			info["issuer"] = iss
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			info["expiry"] = exp.Unix()
		}
		if scope, ok := claims["scope"].(string); ok && scope != "" {
			info["scopes"] = strings.Fields(scope)
		}
		info["jwt_header"] = parsed.Header

	case TokenTypeDID:
		parts := strings.SplitN(token, ":", 3)
		if len(parts) == 3 {
			info["did_method"] = parts[1]
			info["did_specific_id"] = parts[2]
		}

	case TokenTypeURL:
		info["url"] = token
		info["note"] = "URL-based identity (e.g. an Agent Card endpoint)"

	case TokenTypeAPIKey:
		if len(token) > 12 {
			info["key_preview"] = token[:6] + "..." + token[len(token)-4:]
		} else {
			info["key_preview"] = "***"
		}
		info["key_length"] = len(token)
	}
	return info
}
