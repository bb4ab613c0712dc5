// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package registry

import (
	"fmt"
	"strings"
)

// DuplicateServiceError is returned by Register when a service name is
// already taken. Registration happens at process startup, so this is a
// programming error and should fail fast.
type DuplicateServiceError struct {
	Name string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("service %q is already registered", e.Name)
}

// UnknownServiceError is returned when an operation targets a service name
// that was never registered.
type UnknownServiceError struct {
	Name string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Name)
}

// CyclicDependencyError is returned by StartAll when the dependency graph
// contains a cycle. Like DuplicateServiceError it is fatal to startup.
type CyclicDependencyError struct {
	// Services are the names involved in (or downstream of) the cycle.
	Services []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic service dependency involving: %s", strings.Join(e.Services, ", "))
}

// ValidationError rejects operator input synchronously. No state is mutated
// when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
