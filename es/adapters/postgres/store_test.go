package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unique_violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "wrapped unique_violation", err: fmt.Errorf("failed to insert event: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "foreign_key_violation", err: &pq.Error{Code: "23503"}, want: false},
		{name: "message fallback", err: errors.New(`duplicate key value violates unique constraint "events_pkey"`), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithLimit(t *testing.T) {
	query, args := withLimit("SELECT 1 WHERE a = $1", []interface{}{"x"}, 10)
	if query != "SELECT 1 WHERE a = $1 LIMIT $2" {
		t.Errorf("query = %q", query)
	}
	if len(args) != 2 || args[1] != 10 {
		t.Errorf("args = %v", args)
	}

	query, args = withLimit("SELECT 1", nil, 0)
	if query != "SELECT 1" || len(args) != 0 {
		t.Errorf("unbounded query = %q, args = %v", query, args)
	}
}
