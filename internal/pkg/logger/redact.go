package logger

import "strings"

// RedactEmail masks an address for safe logging: "john.doe@example.com"
// becomes "jo***@example.com". Local parts of two characters or fewer are
// masked entirely; anything that is not an address becomes "***@***".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
