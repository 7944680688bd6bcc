package session

import (
	"regexp"
	"strings"
)

// senderPattern matches player names as servers print them
var senderPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// extractSender returns the player who wrote an inbound chat line. It
// accepts "Name: text" and "<Name> text", with optional rank prefixes such
// as "[VIP] Name: text" and section-sign colour codes.
func extractSender(line string) (string, bool) {
	line = strings.TrimSpace(stripFormatting(line))
	if line == "" {
		return "", false
	}

	var name string
	if strings.HasPrefix(line, "<") {
		end := strings.IndexByte(line, '>')
		if end <= 1 {
			return "", false
		}
		name = line[1:end]
	} else {
		end := strings.Index(line, ":")
		if end <= 0 {
			return "", false
		}
		name = line[:end]
	}

	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", false
	}
	name = fields[len(fields)-1]
	if !senderPattern.MatchString(name) {
		return "", false
	}
	return name, true
}

// stripFormatting drops "§x" colour and style codes
func stripFormatting(s string) string {
	if !strings.ContainsRune(s, '§') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	skip := false
	for _, r := range s {
		switch {
		case skip:
			skip = false
		case r == '§':
			skip = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
