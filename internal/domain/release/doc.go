// Package release contains core domain types for the release registry.
//
// It defines Stamp (the four build metadata values), Release (a published
// toolchain release), CheckIn (an agent's latest report), and Actor (who
// performed an action) with Clone helpers to avoid leaking internal references.
package release
