package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind names a console command.
type Kind string

const (
	KindStart  Kind = "start"
	KindClick  Kind = "click"
	KindType   Kind = "type"
	KindKey    Kind = "key"
	KindScroll Kind = "scroll"
	KindStatus Kind = "status"
	KindClose  Kind = "close"
	KindQuit   Kind = "quit"
)

// Command is one parsed console line.
type Command struct {
	Kind   Kind
	X, Y   float64
	Text   string
	Key    string
	DeltaY float64
}

var errEmpty = errors.New("empty command")

// ParseCommand parses lines such as "click 150 300", "type hello world",
// "key Enter" or "scroll -120". Text after "type " is taken verbatim.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimLeft(line, " \t")
	if strings.TrimSpace(line) == "" {
		return Command{}, errEmpty
	}
	verb, rest, _ := strings.Cut(line, " ")
	switch Kind(strings.ToLower(verb)) {
	case KindStart:
		return Command{Kind: KindStart}, nil
	case KindClick:
		args := strings.Fields(rest)
		if len(args) != 2 {
			return Command{}, errors.New("usage: click <x> <y>")
		}
		x, errX := strconv.ParseFloat(args[0], 64)
		y, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil {
			return Command{}, errors.New("click coordinates must be numbers")
		}
		return Command{Kind: KindClick, X: x, Y: y}, nil
	case KindType:
		if rest == "" {
			return Command{}, errors.New("usage: type <text>")
		}
		return Command{Kind: KindType, Text: rest}, nil
	case KindKey:
		name := strings.TrimSpace(rest)
		if name == "" || strings.ContainsAny(name, " \t") {
			return Command{}, errors.New("usage: key <Name>")
		}
		return Command{Kind: KindKey, Key: name}, nil
	case KindScroll:
		dy, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return Command{}, errors.New("usage: scroll <deltaY>")
		}
		return Command{Kind: KindScroll, DeltaY: dy}, nil
	case KindStatus:
		return Command{Kind: KindStatus}, nil
	case KindClose:
		return Command{Kind: KindClose}, nil
	case KindQuit, "exit":
		return Command{Kind: KindQuit}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", verb)
}
