// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingControl is returned when an App is created without a Control.
	ErrMissingControl = errors.New("control is required")

	// ErrMissingServer is returned when an App is created without an API server.
	ErrMissingServer = errors.New("api server is required")

	// ErrControlClosed is returned for work submitted after Close.
	ErrControlClosed = errors.New("control is closed")
)
