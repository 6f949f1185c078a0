package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: cannot commit"), true},
		{fmt.Errorf("insert: %w", errors.New("database is locked (5)")), true},
		{errors.New("UNIQUE constraint failed"), false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
