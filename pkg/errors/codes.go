package errors

// Code is a machine-readable error code of the form CATEGORY_NNN.
// Codes are stable once assigned; they appear in logs, metrics labels and
// span attributes.
type Code string

// Categories:
//
//	VAL_xxx     - configuration validation (400)
//	AUTH_xxx    - token rejected, mapped to Deny (401)
//	INT_xxx     - authorizer failure (500)
//	UNAVAIL_xxx - collaborator failure (503)
const (
	// CodeValidation indicates a general configuration validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required configuration field is empty.
	CodeValidationRequired Code = "VAL_002"

	// CodeTokenExpired indicates the token signature is valid but its exp
	// claim is in the past.
	CodeTokenExpired Code = "AUTH_002"

	// CodeTokenMalformed indicates the Authorization header is not of the
	// form "Bearer <header>.<payload>.<signature>" or a segment cannot be
	// decoded.
	CodeTokenMalformed Code = "AUTH_003"

	// CodeTokenIssuer indicates the token's iss claim is not the
	// configured issuer.
	CodeTokenIssuer Code = "AUTH_004"

	// CodeTokenUse indicates the token's token_use claim is not the
	// required one (an access token presented where an id token is needed).
	CodeTokenUse Code = "AUTH_005"

	// CodeTokenUnknownKey indicates no key in the issuer's key set has the
	// token's key id.
	CodeTokenUnknownKey Code = "AUTH_006"

	// CodeTokenSignature indicates the signature does not verify, or the
	// token fails any claim check other than expiry.
	CodeTokenSignature Code = "AUTH_007"

	// CodeInternal indicates an unexpected failure.
	CodeInternal Code = "INT_001"

	// CodeKeySetParse indicates the key-set endpoint answered but the body
	// is not a valid key-set document.
	CodeKeySetParse Code = "INT_002"

	// CodeInternalConfiguration indicates configuration could not be loaded.
	CodeInternalConfiguration Code = "INT_003"

	// CodeKeySetFetch indicates the key-set endpoint was unreachable or
	// returned a non-200 status.
	CodeKeySetFetch Code = "UNAVAIL_001"

	// CodeIdentityBroker indicates the identity broker call failed.
	CodeIdentityBroker Code = "UNAVAIL_002"
)

// String returns the code as a plain string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH", "INT").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
