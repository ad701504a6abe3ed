package session

import (
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

const maskRune = "•"

// echoElement projects the focused field into the display-only echo sent to
// the typing client. Password-like values never leave the server in clear.
func echoElement(f driver.Field) protocol.Element {
	n := utf8.RuneCountInString(f.Value)
	el := protocol.Element{
		Field:  fieldLabel(f),
		Name:   f.Name,
		Length: n,
		Value:  f.Value,
	}
	if sensitive(f) {
		el.Masked = true
		el.Value = strings.Repeat(maskRune, n)
	}
	return el
}

func fieldLabel(f driver.Field) string {
	for _, v := range []string{f.ID, f.Name, f.Type, f.Tag} {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

func sensitive(f driver.Field) bool {
	if strings.EqualFold(f.Type, "password") {
		return true
	}
	ac := strings.ToLower(f.Autocomplete)
	if strings.Contains(ac, "password") || strings.Contains(ac, "one-time-code") {
		return true
	}
	return strings.Contains(strings.ToLower(f.Name), "password")
}
