package dispatch

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoRecipients is returned when a send is attempted with zero valid
// recipients. This is a configuration defect, not transient noise, and must
// surface rather than look like a successful delivery to nobody.
var ErrNoRecipients = errors.New("recipient set is empty")

// emailPattern is an RFC 5322-style check, strict enough to reject obvious
// junk without attempting full grammar coverage.
var emailPattern = regexp.MustCompile(
	`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`)

// RecipientSet is a deduplicated list of validated addresses. Order follows
// first appearance in the source string.
type RecipientSet []string

// ParseRecipients parses a comma-separated address list (a single bare
// address is the degenerate one-element case). Entries are trimmed,
// validated, and deduplicated case-insensitively. Invalid entries are
// returned separately so the caller can log them; if no valid address
// remains the error wraps ErrNoRecipients.
func ParseRecipients(raw string) (valid RecipientSet, invalid []string, err error) {
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if !ValidAddress(addr) {
			invalid = append(invalid, addr)
			continue
		}
		key := strings.ToLower(addr)
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, addr)
	}

	if len(valid) == 0 {
		return nil, invalid, ErrNoRecipients
	}
	return valid, invalid, nil
}

// ValidAddress reports whether addr looks like a deliverable email address.
func ValidAddress(addr string) bool {
	return emailPattern.MatchString(strings.TrimSpace(addr))
}
