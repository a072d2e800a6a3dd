package gportal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidServerID = errors.New("invalid server id")

// APIError is returned for a non-2xx response from the API endpoint.
type APIError struct {
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Status)
}

// GraphQLError is the first entry of a GraphQL errors array.
type GraphQLError struct {
	Message string `json:"message"`
}

func (e *GraphQLError) Error() string { return e.Message }

const (
	DefaultUnavailablePattern = `status\s*=\s*([^\n]+)\s+details\s*=\s*"([^"]+)"`
	DefaultUnavailableStatus  = "StatusCode.UNAVAILABLE"
)

// UnavailableMatcher recognises the upstream "service unavailable" error
// inside a data frame's error message. The pattern's first group must
// capture the status.
type UnavailableMatcher struct {
	re     *regexp.Regexp
	status string
}

func NewUnavailableMatcher(pattern, status string) (*UnavailableMatcher, error) {
	if pattern == "" {
		pattern = DefaultUnavailablePattern
	}
	if status == "" {
		status = DefaultUnavailableStatus
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("unavailable pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("unavailable pattern %q has no status group", pattern)
	}
	return &UnavailableMatcher{re: re, status: status}, nil
}

func (m *UnavailableMatcher) Match(msg string) bool {
	sub := m.re.FindStringSubmatch(msg)
	if sub == nil {
		return false
	}
	return strings.TrimSpace(sub[1]) == m.status
}
