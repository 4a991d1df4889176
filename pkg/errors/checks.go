package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns err's code, or "" when err carries none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsDenial reports whether err rejects the request itself (AUTH_xxx).
// Denials become an opaque Deny decision rather than a hard error.
func IsDenial(err error) bool {
	return category(err) == "AUTH"
}

// IsUnavailable reports whether err is a collaborator failure (UNAVAIL_xxx).
func IsUnavailable(err error) bool {
	return category(err) == "UNAVAIL"
}

// IsServerError reports whether err means the authorizer could not reach a
// decision: an UNAVAIL or INT code, or any error without a code.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	switch category(err) {
	case "AUTH", "VAL":
		return false
	default:
		return true
	}
}

func category(err error) string {
	e, ok := AsError(err)
	if !ok {
		return ""
	}
	return e.Code.Category()
}
