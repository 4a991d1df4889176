package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Code
// ---------------------------------------------------------------------------

func TestCode_Category(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code Code
		want string
	}{
		{CodeTokenExpired, "AUTH"},
		{CodeTokenSignature, "AUTH"},
		{CodeKeySetFetch, "UNAVAIL"},
		{CodeIdentityBroker, "UNAVAIL"},
		{CodeKeySetParse, "INT"},
		{CodeValidationRequired, "VAL"},
		{Code("NOUNDERSCORE"), "NOUNDERSCORE"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.Category())
		})
	}
}

// ---------------------------------------------------------------------------
// Error
// ---------------------------------------------------------------------------

func TestError_Error_WithAndWithoutCause(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "AUTH_004: issuer mismatch", New(CodeTokenIssuer, "issuer mismatch").Error())

	wrapped := Wrap(stderrors.New("connection refused"), CodeKeySetFetch, "jwks: request failed")
	assert.Equal(t, "UNAVAIL_001: jwks: request failed: connection refused", wrapped.Error())
}

func TestError_Unwrap_SupportsErrorsIs(t *testing.T) {
	t.Parallel()
	sentinel := stderrors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(sentinel, CodeIdentityBroker, "broker failed"))
	assert.ErrorIs(t, err, sentinel)
	assert.True(t, HasCode(err, CodeIdentityBroker))
}

func TestError_HTTPStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusUnauthorized, New(CodeTokenMalformed, "x").HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, New(CodeKeySetFetch, "x").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, New(CodeKeySetParse, "x").HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, New(CodeValidation, "x").HTTPStatus())
}

func TestError_WithDetail_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()
	base := New(CodeTokenUnknownKey, "kid not found")
	withKid := base.WithDetail("kid", "xyz")
	assert.Nil(t, base.Details)
	assert.Equal(t, "xyz", withKid.Details["kid"])
	assert.Equal(t, base.Code, withKid.Code)
}

func TestError_LogAttrs(t *testing.T) {
	t.Parallel()
	err := Wrap(stderrors.New("503"), CodeKeySetFetch, "jwks: bad status").WithDetail("issuer", "https://idp")
	attrs := err.LogAttrs()
	assert.Contains(t, attrs, "UNAVAIL_001")
	assert.Contains(t, attrs, "https://idp")
	assert.Contains(t, attrs, "503")
}

func TestError_Format_Plus(t *testing.T) {
	t.Parallel()
	err := Wrap(stderrors.New("eof"), CodeKeySetParse, "jwks: bad json")
	out := fmt.Sprintf("%+v", err)
	assert.Contains(t, out, `Code: "INT_002"`)
	assert.Contains(t, out, "Cause: eof")
	assert.Equal(t, err.Error(), fmt.Sprintf("%v", err))
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func TestWrap_NilReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Wrap(nil, CodeInternal, "x"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "x %d", 1))
}

func TestFromError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, FromError(nil))

	coded := New(CodeTokenUse, "access token")
	assert.Same(t, coded, FromError(fmt.Errorf("ctx: %w", coded)))

	plain := FromError(stderrors.New("plain"))
	require.NotNil(t, plain)
	assert.Equal(t, CodeInternal, plain.Code)
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

func TestIsDenial(t *testing.T) {
	t.Parallel()
	for _, code := range []Code{
		CodeTokenExpired, CodeTokenMalformed, CodeTokenIssuer,
		CodeTokenUse, CodeTokenUnknownKey, CodeTokenSignature,
	} {
		assert.True(t, IsDenial(New(code, "x")), "code %s", code)
		assert.False(t, IsServerError(New(code, "x")), "code %s", code)
	}
	assert.False(t, IsDenial(New(CodeKeySetFetch, "x")))
	assert.False(t, IsDenial(stderrors.New("plain")))
	assert.False(t, IsDenial(nil))
}

func TestIsServerError(t *testing.T) {
	t.Parallel()
	assert.True(t, IsServerError(New(CodeKeySetFetch, "x")))
	assert.True(t, IsServerError(New(CodeKeySetParse, "x")))
	assert.True(t, IsServerError(New(CodeIdentityBroker, "x")))
	assert.True(t, IsServerError(stderrors.New("uncoded")))
	assert.False(t, IsServerError(nil))
	assert.False(t, IsServerError(New(CodeValidation, "x")))
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsUnavailable(New(CodeIdentityBroker, "x")))
	assert.False(t, IsUnavailable(New(CodeKeySetParse, "x")))
}

func TestGetCode_Uncoded(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Code(""), GetCode(stderrors.New("x")))
	assert.Equal(t, Code(""), GetCode(nil))
}
