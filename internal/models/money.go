package models

import "math"

// Monetary amounts are stored as integer micros of the base currency
// (1.00 == 1_000_000 micros) so counter arithmetic stays exact.

// MicrosFromAmount converts a float currency amount to micros.
func MicrosFromAmount(amount float64) int64 {
	return int64(math.Round(amount * 1_000_000))
}

// AmountFromMicros converts micros back to a float currency amount.
func AmountFromMicros(micros int64) float64 {
	return float64(micros) / 1_000_000
}
