// Package updater downloads and applies releases from the update folder.
//
// It validates local files against checksums from the published release
// manifest, downloads required artifacts to a temporary directory, atomically
// applies updates, and starts the appropriate executable for the current role.
package updater
