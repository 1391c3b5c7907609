package utils

import "strings"

// IsActiveFundCode reports whether an exchange code denotes an actively
// managed ETF. On the TWSE these carry an "A" suffix (e.g. 00980A).
func IsActiveFundCode(code string) bool {
	return strings.HasSuffix(strings.ToUpper(strings.TrimSpace(code)), "A")
}
