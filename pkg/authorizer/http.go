package authorizer

import (
	"encoding/json"
	"io"
	"net/http"

	sserr "github.com/StricklySoft/gateway-authorizer/pkg/errors"
)

// maxRequestBody caps the JSON body accepted by [HTTPHandler].
const maxRequestBody = 64 << 10

// HeaderAuthorization is the request header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// httpRequest is the body accepted by [HTTPHandler]; field names follow
// the API Gateway TOKEN authorizer event.
type httpRequest struct {
	AuthorizationToken string `json:"authorizationToken"`
	MethodArn          string `json:"methodArn"`
}

// httpResponse is the Allow body written by [HTTPHandler].
type httpResponse struct {
	PrincipalID    string          `json:"principalId"`
	PolicyDocument *PolicyDocument `json:"policyDocument"`
	Context        map[string]any  `json:"context"`
}

type httpError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HTTPHandler serves decisions over HTTP for sidecar deployments.
//
// It accepts POST {"authorizationToken": "...", "methodArn": "..."} and
// answers 200 with the policy on Allow, 401 {"message":"Unauthorized"}
// on Deny, 503 when a collaborator is unavailable, and 500 otherwise.
func HTTPHandler(svc *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, httpError{Message: "method not allowed"})
			return
		}

		var in httpRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, httpError{Message: "request body must be a JSON authorizer event"})
			return
		}

		d, err := svc.Decide(r.Context(), Request{
			AuthorizationHeader: in.AuthorizationToken,
			ResourceARN:         in.MethodArn,
		})
		if err != nil {
			writeHardError(w, err)
			return
		}
		if !d.Allowed() {
			writeJSON(w, http.StatusUnauthorized, httpError{Message: "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, httpResponse{
			PrincipalID:    d.PrincipalID,
			PolicyDocument: d.Policy,
			Context:        d.Context,
		})
	})
}

// HTTPMiddleware guards next with svc. Every request is decided against
// resourceARN using its Authorization header; allowed requests reach next
// with the decision in their context (see [DecisionFromContext]).
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/pets", listPets)
//	handler := authorizer.HTTPMiddleware(svc, "arn:aws:execute-api:us-east-1:123:api/prod")(mux)
func HTTPMiddleware(svc *Service, resourceARN string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := svc.Decide(r.Context(), Request{
				AuthorizationHeader: r.Header.Get(HeaderAuthorization),
				ResourceARN:         resourceARN,
			})
			if err != nil {
				writeHardError(w, err)
				return
			}
			if !d.Allowed() {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, httpError{Message: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithDecision(r.Context(), d)))
		})
	}
}

func writeHardError(w http.ResponseWriter, err error) {
	ssErr := sserr.FromError(err)
	status := http.StatusInternalServerError
	if sserr.IsUnavailable(ssErr) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, httpError{Message: http.StatusText(status), Code: ssErr.Code.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
