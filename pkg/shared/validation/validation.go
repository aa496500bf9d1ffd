package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ValidateRequiredFields returns an error naming the first empty field, in name order.
func ValidateRequiredFields(fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			return fmt.Errorf("%q is required", name)
		}
	}
	return nil
}

// IsValidItemID reports whether id is a positive integer or a GUID, the two
// id formats of Azure DevOps items.
func IsValidItemID(id string) bool {
	id = strings.TrimSpace(id)
	if n, err := strconv.Atoi(id); err == nil {
		return n > 0
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// sharedMailboxPrefixes mark functional mailboxes that cannot act as a person.
var sharedMailboxPrefixes = []string{"eu.", "fu.", "fu_"}

// EmailValidator accepts personal mail addresses of a fixed set of domains.
type EmailValidator struct {
	pattern *regexp.Regexp
}

// NewEmailValidator builds a validator for domains.
func NewEmailValidator(domains []string) (*EmailValidator, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("at least one mail domain is required")
	}
	quoted := make([]string, 0, len(domains))
	for _, d := range domains {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(d))))
	}
	pattern, err := regexp.Compile(`^[a-z0-9._%+'-]+@(` + strings.Join(quoted, "|") + `)$`)
	if err != nil {
		return nil, err
	}
	return &EmailValidator{pattern: pattern}, nil
}

// Validate returns an error when email is not an acceptable personal address.
func (v *EmailValidator) Validate(email string) error {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if !v.pattern.MatchString(normalized) {
		return fmt.Errorf("%q is not a valid mail address of an allowed domain", email)
	}
	for _, prefix := range sharedMailboxPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return fmt.Errorf("%q is a shared mailbox", email)
		}
	}
	return nil
}
