package postgres

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// textOrNull converts a Go string to pgtype.Text.
// Empty string → NULL (invalid), non-empty → valid text.
func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// textPtrToNullable converts a *string to pgtype.Text.
// nil → NULL, non-nil → valid text.
func textPtrToNullable(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// intPtrToNullable converts a *int to pgtype.Int4.
func intPtrToNullable(n *int) pgtype.Int4 {
	if n == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*n), Valid: true}
}

// nullableTextToString converts pgtype.Text to a Go string.
func nullableTextToString(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

// nullableTextToPtr converts pgtype.Text to *string.
func nullableTextToPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

// nullableInt4ToPtr converts pgtype.Int4 to *int.
func nullableInt4ToPtr(n pgtype.Int4) *int {
	if n.Valid {
		v := int(n.Int32)
		return &v
	}
	return nil
}
