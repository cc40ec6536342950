package model

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"docstate/internal/resource"
)

// User is the request principal handed to the core by the HTTP layer. A
// nil *User is an anonymous requester.
type User struct {
	ID          string
	DisplayName string
	Roles       []resource.Role
	Groups      []string
	IsAdmin     bool
}

// RoleNames returns the roles used for permission lookups; anonymous
// requesters hold only the public role.
func (u *User) RoleNames() []resource.Role {
	if u == nil || len(u.Roles) == 0 {
		return []resource.Role{resource.RolePublic}
	}
	return u.Roles
}

// IDRef returns the id for audit stamping, nil for anonymous requesters.
func (u *User) IDRef() *string {
	if u == nil || u.ID == "" {
		return nil
	}
	id := u.ID
	return &id
}

// Admin reports whether the principal holds admin rights.
func (u *User) Admin() bool {
	return u != nil && u.IsAdmin
}

// UserFromToken maps a signed bearer token onto a principal. Only HMAC
// tokens are accepted. Claims: "sub" (required), "roles", "groups",
// "admin", "name".
func UserFromToken(tokenString, secret string) (*User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("could not parse token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("sub claim is missing or invalid")
	}
	user := &User{ID: sub}
	if name, ok := claims["name"].(string); ok {
		user.DisplayName = name
	}
	if admin, ok := claims["admin"].(bool); ok {
		user.IsAdmin = admin
	}
	for _, role := range claimStrings(claims["roles"]) {
		user.Roles = append(user.Roles, resource.Role(role))
	}
	user.Groups = claimStrings(claims["groups"])
	return user, nil
}

func claimStrings(claim any) []string {
	values, ok := claim.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
