// Package common holds helpers shared by several services.
//
// It provides a lightweight HTTP client for the registry API with timeouts
// and basic auth, plus utilities to detect the current system actor
// (hostname/username), a stable machine identifier, and the host platform
// for fleet reporting.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
