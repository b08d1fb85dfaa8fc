// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and registry construction
// for toolcrib hosts.
//
// Supports TOML configuration with sensible defaults, environment variable
// overrides, and validation. The registry itself never reads configuration;
// hosts load a Config and hand the built registry around explicitly.
//
// # Key Types
//
//   - Config: complete host configuration
//   - FilePolicy: per-tool policy section for file-oriented tools
//   - CommandPolicy: per-tool policy section for subprocess tools
//   - Watcher: change notification for the configuration file
//
// # Configuration Precedence
//
// Configuration is resolved from (in order of precedence):
//   - Environment variables (TOOLCRIB_*)
//   - ~/.toolcrib/config.toml (or an explicit path)
//   - Built-in defaults
//
// # Usage
//
// Load configuration and build a registry:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, err := config.BuildRegistry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
