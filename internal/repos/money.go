package repos

import "github.com/shopspring/decimal"

// Amounts are stored as integer cents.

func toCents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func fromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

// FormatCents renders stored cents as a 2dp amount.
func FormatCents(c int64) string { return fromCents(c).StringFixed(2) }
