// Package settings implements the key/value settings contract consulted when
// workflows are created.
//
// Keys that name providers are validated against the provider registry on
// Update, so an unknown or incapable provider id is rejected before it is
// stored. Reads always go to the store; nothing is cached, which is what
// lets a settings change apply to the next workflow without a restart.
package settings
