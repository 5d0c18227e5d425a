// Package ai wraps the text-generation providers SGID can be configured with.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// Provider turns a prompt into text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

type Category string

const (
	CategoryUnauthorized Category = "unauthorized"
	CategoryRateLimited  Category = "rate_limited"
	CategoryNetwork      Category = "network"
	CategoryOther        Category = "other"
)

var (
	ErrUnauthorized = errors.New("ai provider rejected the credentials")
	ErrRateLimited  = errors.New("ai provider rate limit reached")
	ErrNetwork      = errors.New("ai provider unreachable")
	ErrProvider     = errors.New("ai provider failed")
	ErrEmpty        = errors.New("ai provider returned no text")
)

// Error carries the coarse category of a provider failure.
type Error struct {
	Category Category
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Category, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Category, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *Error) sentinel() error {
	switch e.Category {
	case CategoryUnauthorized:
		return ErrUnauthorized
	case CategoryRateLimited:
		return ErrRateLimited
	case CategoryNetwork:
		return ErrNetwork
	default:
		return ErrProvider
	}
}

// Classify maps any provider error onto a category.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Category
	}
	if isNetworkError(err) {
		return CategoryNetwork
	}
	return CategoryOther
}

func categoryForStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryUnauthorized
	case status == 429:
		return CategoryRateLimited
	default:
		return CategoryOther
	}
}

func statusError(provider string, status int, err error) *Error {
	return &Error{Category: categoryForStatus(status), Provider: provider, Status: status, Err: err}
}

// transportError wraps a failure that happened before a response arrived.
func transportError(provider string, err error) *Error {
	category := CategoryOther
	if isNetworkError(err) {
		category = CategoryNetwork
	}
	return &Error{Category: category, Provider: provider, Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
