// Package device manages the per-installation device identifier.
//
// The identifier is a random UUID generated on first start and written to
// its own file under the data directory, next to but separate from the
// queue database. It is reused for the life of the installation.
package device
