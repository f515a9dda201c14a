// Package registry implements persistence for published releases and agent
// check-ins.
//
// Two backends satisfy the Repository interface: FileRepository stores the
// whole state as one JSON document for single-node installations, and
// SQLiteRepository keeps releases and agents in database tables. New picks
// the backend from the configuration.
package registry
