// Package session carries the caller's upstream credentials and caches the
// upstream current-user profile so every request does not cost a round trip.
package session

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type GestoredVocabulary struct {
	URI   string `json:"uri"`
	Label string `json:"label,omitempty"`
}

// User is the upstream profile of the acting user.
type User struct {
	ID                   string               `json:"id"`
	FirstName            string               `json:"firstName"`
	LastName             string               `json:"lastName"`
	Admin                bool                 `json:"admin"`
	GestoredVocabularies []GestoredVocabulary `json:"gestoredVocabularies,omitempty"`
}

func (u User) Role() string {
	if u.Admin {
		return RoleAdmin
	}
	return RoleUser
}

func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Session is passed explicitly to every upstream call.
type Session struct {
	Token string
	User  User
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
