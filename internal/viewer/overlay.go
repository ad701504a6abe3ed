// Package viewer is the client side of the socket protocol: it maps local
// input into canvas space, keeps the newest frame and projects the
// display-only field overlay.
package viewer

import (
	"sort"
	"strings"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// Overlay mirrors the server's view of form fields. It is a pure projection
// of inputUpdated events and never holds locally typed text.
type Overlay struct {
	Focused string
	Fields  map[string]protocol.Element
}

// Apply returns a new overlay with e folded in. o is not modified.
func (o Overlay) Apply(e protocol.Element) Overlay {
	next := Overlay{Focused: e.Field, Fields: make(map[string]protocol.Element, len(o.Fields)+1)}
	for k, v := range o.Fields {
		next.Fields[k] = v
	}
	next.Fields[e.Field] = e
	return next
}

// Project folds one server event into the overlay. Events that end the
// login clear it.
func (o Overlay) Project(msg Message) Overlay {
	switch msg.Type {
	case protocol.TypeInputUpdated:
		var ev protocol.InputUpdated
		if err := msg.Decode(&ev); err != nil || ev.Element.Field == "" {
			return o
		}
		return o.Apply(ev.Element)
	case protocol.TypeLoginSuccess, protocol.TypeSessionClosed:
		return Overlay{}
	}
	return o
}

// Render formats the overlay one field per line, focused field marked.
func (o Overlay) Render() string {
	names := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		e := o.Fields[n]
		if n == o.Focused {
			b.WriteString("> ")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(e.Value)
		b.WriteByte('\n')
	}
	return b.String()
}
