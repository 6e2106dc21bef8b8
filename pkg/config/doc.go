// Package config defines engine configuration loaded from YAML files
// or constructed in code, including the at-rest encryption key source,
// WAL sync policy, and soft-delete lifecycle windows.
package config
