package aave

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorRendering(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	cases := []struct {
		err  error
		want string
		code int
	}{
		{
			err:  &ConfigurationError{Msg: "unsupported network \"solana\""},
			want: "[INVALID_CONFIGURATION] unsupported network \"solana\"",
			code: 1004,
		},
		{
			err:  &NetworkError{Network: "base", Msg: "connection check failed", Err: cause},
			want: "[NETWORK_ERROR] connection check failed (network base): dial tcp: refused",
			code: 1001,
		},
		{
			err:  &ContractError{Token: "ETH", Msg: "failed to read reserve data", Err: cause},
			want: "[CONTRACT_ERROR] failed to read reserve data for ETH: dial tcp: refused",
			code: 1002,
		},
		{
			err:  &TokenNotFoundError{Token: "LINK", Network: "base"},
			want: "[TOKEN_NOT_FOUND] Token LINK not found on base",
			code: 1003,
		},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.Error())
		coder, ok := tc.err.(interface{ Code() int })
		if assert.True(t, ok) {
			assert.Equal(t, tc.code, coder.Code())
		}
	}

	assert.ErrorIs(t, &ContractError{Err: cause}, cause)
	assert.Equal(t, "TIMEOUT_ERROR", CodeTimeout.String())
	assert.Equal(t, "ERROR_42", ErrorCode(42).String())
}
