// Package validation provides input validation helpers for the HTTP API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxNoteLength bounds free-text notes on ledger entries and order events.
const MaxNoteLength = 1000

var (
	// classicAddressRegex validates XRPL classic addresses (r + base58, no 0/O/I/l)
	classicAddressRegex = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
	// txHashRegex validates 64-char hex transaction hashes
	txHashRegex = regexp.MustCompile(`^[A-Fa-f0-9]{64}$`)
)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks if a string is a valid ledger classic address.
func IsValidAddress(addr string) bool {
	return classicAddressRegex.MatchString(addr)
}

// IsValidTxHash checks if a string is a valid transaction hash.
func IsValidTxHash(s string) bool {
	return txHashRegex.MatchString(s)
}

// IsValidAmount reports whether s is a non-negative integer string in
// minor units. Leading zeros are tolerated; signs, decimals, and empty
// strings are not.
func IsValidAmount(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SanitizeNote trims, bounds, and strips null bytes from a free-text note.
func SanitizeNote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > MaxNoteLength {
		s = s[:MaxNoteLength]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks that a field is a valid classic address.
// Empty values pass; combine with Required for required fields.
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidAddress(value) {
			return &ValidationError{Field: field, Message: "must be a valid ledger address (r...)"}
		}
		return nil
	}
}

// ValidAmount checks that a field is a non-negative integer amount string.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidAmount(value) {
			return &ValidationError{Field: field, Message: "must be a non-negative integer in minor units"}
		}
		return nil
	}
}

// PositiveQuantity checks that an integer quantity is at least 1.
func PositiveQuantity(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 1 {
			return &ValidationError{Field: field, Message: "must be at least 1"}
		}
		return nil
	}
}
