package aave

import "fmt"

// ErrorCode classifies failures for logs and exit reporting.
type ErrorCode int

const (
	CodeNetwork              ErrorCode = 1001
	CodeContract             ErrorCode = 1002
	CodeTokenNotFound        ErrorCode = 1003
	CodeInvalidConfiguration ErrorCode = 1004
	CodeRateCalculation      ErrorCode = 1005
	CodeTimeout              ErrorCode = 1006
	CodeValidation           ErrorCode = 1007
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNetwork:
		return "NETWORK_ERROR"
	case CodeContract:
		return "CONTRACT_ERROR"
	case CodeTokenNotFound:
		return "TOKEN_NOT_FOUND"
	case CodeInvalidConfiguration:
		return "INVALID_CONFIGURATION"
	case CodeRateCalculation:
		return "RATE_CALCULATION_ERROR"
	case CodeTimeout:
		return "TIMEOUT_ERROR"
	case CodeValidation:
		return "VALIDATION_ERROR"
	default:
		return fmt.Sprintf("ERROR_%d", int(c))
	}
}

// ConfigurationError reports an unknown network, an empty token list, or a bad registry.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string { return render(CodeInvalidConfiguration, e.Msg, e.Err) }
func (e *ConfigurationError) Unwrap() error { return e.Err }
func (e *ConfigurationError) Code() int     { return int(CodeInvalidConfiguration) }

// NetworkError reports an unreachable or mismatched chain endpoint.
type NetworkError struct {
	Network string
	Msg     string
	Err     error
}

func (e *NetworkError) Error() string {
	return render(CodeNetwork, fmt.Sprintf("%s (network %s)", e.Msg, e.Network), e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Code() int     { return int(CodeNetwork) }

// ContractError reports a contract read that failed after retries or could not be assembled.
type ContractError struct {
	Token string
	Msg   string
	Err   error
}

func (e *ContractError) Error() string {
	msg := e.Msg
	if e.Token != "" {
		msg = fmt.Sprintf("%s for %s", e.Msg, e.Token)
	}
	return render(CodeContract, msg, e.Err)
}
func (e *ContractError) Unwrap() error { return e.Err }
func (e *ContractError) Code() int     { return int(CodeContract) }

// TokenNotFoundError reports a token with no address on the active network.
type TokenNotFoundError struct {
	Token   string
	Network string
}

func (e *TokenNotFoundError) Error() string {
	return render(CodeTokenNotFound, fmt.Sprintf("Token %s not found on %s", e.Token, e.Network), nil)
}
func (e *TokenNotFoundError) Code() int { return int(CodeTokenNotFound) }

func render(code ErrorCode, msg string, cause error) string {
	if cause != nil {
		return fmt.Sprintf("[%s] %s: %v", code, msg, cause)
	}
	return fmt.Sprintf("[%s] %s", code, msg)
}
