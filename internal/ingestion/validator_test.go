package ingestion

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestValidator_Apply_RequiredAndDedup(t *testing.T) {
	// Two identical rows plus one with an empty required field: exactly one
	// survives.
	rows := []Row{
		{"code": "7203", "date": "2024-01-04", "v": 1},
		{"code": "7203", "date": "2024-01-04", "v": 2},
		{"code": "", "date": "2024-01-04", "v": 3},
	}

	v := NewValidator([]string{"code", "date"}, []string{"code", "date"}, testLogger())

	valid, missing, duplicates := v.Apply("sync", rows)

	require.Len(t, valid, 1)
	assert.Equal(t, 1, missing)
	assert.Equal(t, 1, duplicates)
	assert.Equal(t, 1, valid[0]["v"], "first occurrence wins")
}

func TestValidator_Apply_MissingVariants(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want bool
	}{
		{
			name: "all fields present",
			row:  Row{"code": "7203", "date": "2024-01-04"},
			want: true,
		},
		{
			name: "nil value",
			row:  Row{"code": nil, "date": "2024-01-04"},
			want: false,
		},
		{
			name: "absent key",
			row:  Row{"date": "2024-01-04"},
			want: false,
		},
		{
			name: "whitespace only string",
			row:  Row{"code": "   ", "date": "2024-01-04"},
			want: false,
		},
		{
			name: "numeric zero is present",
			row:  Row{"code": 0, "date": "2024-01-04"},
			want: true,
		},
	}

	v := NewValidator([]string{"code", "date"}, nil, testLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, _, _ := v.Apply("test", []Row{tt.row})

			if tt.want {
				assert.Len(t, valid, 1)
			} else {
				assert.Empty(t, valid)
			}
		})
	}
}

func TestValidator_Apply_DedupKeyOrderMatters(t *testing.T) {
	// Keys are joined left-to-right, so rows differing in any key survive.
	rows := []Row{
		{"code": "7203", "date": "2024-01-04"},
		{"code": "7203", "date": "2024-01-05"},
		{"code": "9984", "date": "2024-01-04"},
	}

	v := NewValidator([]string{"code"}, []string{"code", "date"}, testLogger())

	valid, missing, duplicates := v.Apply("sync", rows)

	assert.Len(t, valid, 3)
	assert.Zero(t, missing)
	assert.Zero(t, duplicates)
}

func TestValidator_Apply_NoDedupKeys(t *testing.T) {
	rows := []Row{
		{"code": "7203"},
		{"code": "7203"},
	}

	v := NewValidator([]string{"code"}, nil, testLogger())

	valid, _, duplicates := v.Apply("sync", rows)

	assert.Len(t, valid, 2, "without dedup keys duplicates pass through")
	assert.Zero(t, duplicates)
}

func TestValidator_Apply_PreservesOrder(t *testing.T) {
	rows := []Row{
		{"code": "a", "seq": 0},
		{"code": "b", "seq": 1},
		{"code": "c", "seq": 2},
	}

	v := NewValidator([]string{"code"}, []string{"code"}, testLogger())

	valid, _, _ := v.Apply("sync", rows)

	require.Len(t, valid, 3)
	for i, row := range valid {
		assert.Equal(t, i, row["seq"])
	}
}
