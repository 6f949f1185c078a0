// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
func IsSQLiteBusyError(err error) bool {
	return errContains(err, "SQLITE_BUSY") || errContains(err, "database is busy")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	return errContains(err, "database is locked") || errContains(err, "SQLITE_LOCKED")
}

// IsSQLiteConflictError reports whether err is a transient SQLite
// concurrency error that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

func errContains(err error, marker string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), marker)
}
