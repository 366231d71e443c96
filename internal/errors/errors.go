// Package errors provides the categorized error taxonomy used across the
// rebalancer: lookup failures, input validation, upstream ability failures,
// and on-chain confirmation failures.
package errors

import (
	"fmt"
	"net/http"

	"github.com/vault-rebalancer/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input errors (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing-resource errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryAbility represents failures from the delegated-signing ability service
	CategoryAbility ErrorCategory = "ability"
	// CategoryChain represents on-chain confirmation failures
	CategoryChain ErrorCategory = "chain"
	// CategoryMarket represents vault market data source failures
	CategoryMarket ErrorCategory = "market"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents unclassified system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// Error codes surfaced through the API and recorded on failed job runs
const (
	CodeInvalidAddress   = "INVALID_ADDRESS"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeScheduleNotFound = "SCHEDULE_NOT_FOUND"
	CodeSwapsNotFound    = "SWAPS_NOT_FOUND"
	CodeNoVaultFound     = "NO_VAULT_FOUND"
	CodeAbilityFailure   = "ABILITY_FAILURE"
	CodeTxFailed         = "TX_FAILED"
	CodeMarketError      = "MARKET_ERROR"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidAddressError creates an invalid wallet/receiver address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewScheduleNotFoundError creates a not-found error for a wallet's schedule
func NewScheduleNotFoundError(walletAddress string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeScheduleNotFound,
		Message:    fmt.Sprintf("no rebalance schedule found for %s", walletAddress),
		Details: map[string]interface{}{
			"walletAddress": walletAddress,
		},
	}
}

// NewNoVaultFoundError creates the fatal no-vault-to-deposit-into error
func NewNoVaultFoundError(assetSymbol string, chainID int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMarket,
		StatusCode: http.StatusBadGateway,
		Code:       CodeNoVaultFound,
		Message:    fmt.Sprintf("no vault found when looking for top yielding %s vault on chain %d", assetSymbol, chainID),
		Details: map[string]interface{}{
			"assetSymbol": assetSymbol,
			"chainId":     chainID,
		},
	}
}

// NewAbilityError creates an upstream ability failure. The raw upstream
// response is embedded verbatim so operators can diagnose the rejection.
func NewAbilityError(step string, raw string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAbility,
		StatusCode: http.StatusBadGateway,
		Code:       CodeAbilityFailure,
		Message:    fmt.Sprintf("%s failed. Response: %s", step, raw),
		Details: map[string]interface{}{
			"step":     step,
			"response": raw,
		},
	}
}

// NewChainConfirmationError creates the error for a transaction that mined
// with a failure status
func NewChainConfirmationError(txHash string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusBadGateway,
		Code:       CodeTxFailed,
		Message:    fmt.Sprintf("transaction failed for hash: %s", txHash),
		Details: map[string]interface{}{
			"txHash": txHash,
		},
	}
}

// NewMarketError creates a vault market data source error
func NewMarketError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMarket,
		StatusCode: http.StatusBadGateway,
		Code:       CodeMarketError,
		Message:    fmt.Sprintf("market data error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	// If already categorized, return as-is
	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	// If it's a ServiceError, convert it
	if svcErr, ok := err.(*types.ServiceError); ok {
		return categorizeServiceError(svcErr)
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case CodeInvalidAddress, CodeInvalidParameter, "INVALID_AMOUNT":
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeScheduleNotFound, CodeSwapsNotFound:
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether an error is a missing-resource error
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// IsValidation reports whether an error is a malformed-input error
func IsValidation(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryValidation
}
