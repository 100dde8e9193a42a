// Package service provides business logic services for the user directory
// and the calculator.
package service

import "errors"

// ErrInvalidInput indicates a malformed request. Directory errors (not
// found, duplicate, inactive, persistence) are the sentinels in package
// domain.
var ErrInvalidInput = errors.New("invalid input")
