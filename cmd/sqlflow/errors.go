package main

import "errors"

var (
	// ErrPlanningFailed wraps a fatal error from planner.Build.
	ErrPlanningFailed = errors.New("planning failed")
	// ErrNoIntrospectDSN indicates introspect was invoked without a connection string.
	ErrNoIntrospectDSN = errors.New("introspect: --dsn or a configured database is required")
)
