package models

import (
	"strconv"
	"strings"
)

// ComputeTotal is the single place where the party price is derived.
// Amounts are whole VND.
func ComputeTotal(pricePerPerson int64, people int) int64 {
	if pricePerPerson <= 0 || people <= 0 {
		return 0
	}
	return pricePerPerson * int64(people)
}

// FormatVND renders an amount the way Vietnamese locales do: 1.500.000đ.
func FormatVND(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	b.WriteString("đ")
	return b.String()
}
