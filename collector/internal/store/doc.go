// Package store keeps accepted samples in memory, grouped by device.
// A sample is identified by its device id and timestamp; storing the same
// pair twice is a no-op. A background goroutine (Run) evicts samples that
// were received longer ago than the retention window.
package store
