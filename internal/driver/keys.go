package driver

import (
	"strings"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

// KeySequence resolves a client key name ("Enter", "ArrowLeft", "a") into the
// string chromedp.KeyEvent expects. Unknown multi-character names are rejected.
func KeySequence(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if utf8.RuneCountInString(name) == 1 {
		return name, true
	}
	seq, ok := namedKeys[strings.ToLower(name)]
	return seq, ok
}
