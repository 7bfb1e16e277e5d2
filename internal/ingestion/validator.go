// Validation for pipeline rows: required-field presence and dedup filtering.
package ingestion

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validator filters pipeline rows by required-field presence and optional
// dedup keys. Both drop classes are counted and logged at warning level with
// the stage name, so a noisy upstream day is visible without aborting the
// batch.
type Validator struct {
	required  []string
	dedupKeys []string
	logger    *slog.Logger
}

// NewValidator creates a validator. required lists the field names every row
// must carry; dedupKeys, when non-empty, define the identity under which only
// the first occurrence of a row is kept.
func NewValidator(required, dedupKeys []string, logger *slog.Logger) *Validator {
	return &Validator{
		required:  required,
		dedupKeys: dedupKeys,
		logger:    logger,
	}
}

// Apply filters rows and returns the survivors plus the two drop counts.
//
// A field is missing when its value is nil or a trimmed-empty string; absence
// of the key counts the same. The dedup identity is the stringified key values
// joined left-to-right; the first occurrence wins. Order of surviving rows is
// preserved.
func (v *Validator) Apply(stage string, rows []Row) ([]Row, int, int) {
	valid := make([]Row, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))

	var missing, duplicates int

	for _, row := range rows {
		if !v.hasRequired(row) {
			missing++

			continue
		}

		if len(v.dedupKeys) > 0 {
			key := v.dedupKey(row)
			if _, dup := seen[key]; dup {
				duplicates++

				continue
			}

			seen[key] = struct{}{}
		}

		valid = append(valid, row)
	}

	if missing > 0 {
		v.logger.Warn("dropped rows with missing required fields",
			slog.String("stage", stage),
			slog.Int("dropped", missing),
			slog.String("required", strings.Join(v.required, ",")),
		)
	}

	if duplicates > 0 {
		v.logger.Warn("dropped duplicate rows",
			slog.String("stage", stage),
			slog.Int("dropped", duplicates),
			slog.String("dedup_keys", strings.Join(v.dedupKeys, ",")),
		)
	}

	return valid, missing, duplicates
}

// hasRequired reports whether every required field is present on the row.
func (v *Validator) hasRequired(row Row) bool {
	for _, field := range v.required {
		if IsMissing(row[field]) {
			return false
		}
	}

	return true
}

// dedupKey builds the row's dedup identity: stringified key values joined
// left-to-right. The separator only needs to keep adjacent values apart.
func (v *Validator) dedupKey(row Row) string {
	parts := make([]string, 0, len(v.dedupKeys))

	for _, key := range v.dedupKeys {
		parts = append(parts, fmt.Sprintf("%v", row[key]))
	}

	return strings.Join(parts, "|")
}
