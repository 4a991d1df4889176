// Package errors defines the error taxonomy of the gateway authorizer.
//
// Every failure produced by the authorizer is an [*Error] carrying a
// machine-readable [Code]. The code's category decides how the failure is
// surfaced to the API gateway:
//
//   - AUTH_xxx: the request is unauthorized. The decision service turns
//     these into a uniform Deny; the specific code is kept for logs only.
//   - UNAVAIL_xxx: a collaborator (key-set endpoint, identity broker) could
//     not be reached or rejected the call. Surfaced as a hard error.
//   - INT_xxx: the authorizer itself is broken (unparseable key set,
//     misconfiguration, unexpected failure). Surfaced as a hard error.
//   - VAL_xxx: configuration validation failures at startup.
//
// # Usage
//
//	err := errors.Wrap(cause, errors.CodeKeySetFetch, "jwks: request failed")
//
//	if errors.IsDenial(err) {
//	    // respond "Unauthorized"
//	}
package errors
