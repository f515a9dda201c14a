// Package config defines connection settings used by binaries and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type holds the registry HTTP address, the update folder URL,
// and the persistence backend selection for the registry daemon.
package config
