package token

// Claims is the decoded payload of a verified token.
type Claims struct {
	// Issuer is the iss claim.
	Issuer string

	// Subject is the sub claim; identity exchange is keyed by it.
	Subject string

	// TokenUse is the token_use claim ("id" or "access").
	TokenUse string

	// KeyID is the kid header the token was verified with.
	KeyID string

	// Token is the compact three-segment token, without the "Bearer "
	// prefix.
	Token string

	// Values holds every payload member as decoded from JSON.
	Values map[string]any
}
