// Package money converts between client-facing decimal amount strings and the
// integer minor units (cents) stored in the ledger. Balances and transfer
// amounts never exist as floats anywhere in the system.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MinTransferCents is the smallest transferable amount: one cent.
	MinTransferCents int64 = 1
	// MaxTransferCents caps a single transfer at $100,000.00.
	MaxTransferCents int64 = 100_000_00
	// MaxBalanceCents caps any account balance at $10,000,000.00.
	MaxBalanceCents int64 = 10_000_000_00
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a decimal string like "12.50" into cents. It rejects
// negative values, more than two fractional digits, and amounts outside
// [MinTransferCents, MaxTransferCents].
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if len(frac) == 0 || len(frac) > 2 {
			return 0, ErrInvalidAmount
		}
	}
	if whole == "" {
		return 0, ErrInvalidAmount
	}

	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	var centsPart int64
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
		centsPart = centsPart*10 + int64(r-'0')
	}
	if len(frac) == 1 {
		centsPart *= 10
	}

	if dollars > MaxTransferCents/100 {
		return 0, ErrInvalidAmount
	}
	cents := dollars*100 + centsPart
	if cents < MinTransferCents || cents > MaxTransferCents {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// FormatCents renders cents as a plain decimal string, e.g. 1050 -> "10.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
