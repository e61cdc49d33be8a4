package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of an edchat identity token.
type Payload struct {
	// StandardClaims carries expiry, issue time and issuer.
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the user identifier assigned by the server.
	ID string `json:"id"`

	// Role is the user's role tag ("student", "teacher" or "admin").
	Role string `json:"role"`

	// Name is the display name at the time the token was issued.
	Name string `json:"name"`
}
