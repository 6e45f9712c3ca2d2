package model

// AuthClaims are the claims carried by an operator token.
type AuthClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	TokenID string `json:"jti"`
}
