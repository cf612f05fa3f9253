// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is ENV > file > defaults. The file is YAML, decoded strictly:
// unknown keys and multiple documents are rejected. Environment variables
// use the TVD_ prefix. The result is validated before it is returned, and a
// ConfigHolder swaps it atomically on reload.
package config
