// Package parser turns chat message text into typed file commands.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"drive-relay/internal/model"
)

const echoLimit = 50

// grammar is one intent with its alias patterns, tried in order.
type grammar struct {
	intent   model.Intent
	arity    int
	patterns []*regexp.Regexp
}

type Parser struct {
	grammars []grammar
}

var defaultParser = New()

// New builds a parser over the fixed intent table. Intents are tried in table
// order and the first matching alias wins.
func New() *Parser {
	return &Parser{grammars: []grammar{
		{
			intent: model.IntentList,
			arity:  1,
			patterns: compile(
				`^LIST\s+(.+)$`,
				`^ls\s+(.+)$`,
			),
		},
		{
			intent: model.IntentDelete,
			arity:  1,
			patterns: compile(
				`^DELETE\s+(.+)$`,
				`^rm\s+(.+)$`,
			),
		},
		{
			intent: model.IntentMove,
			arity:  2,
			patterns: compile(
				`^MOVE\s+(.+?)\s+TO\s+(.+)$`,
				`^mv\s+(.+?)\s+(.+)$`,
			),
		},
		{
			intent: model.IntentSummary,
			arity:  1,
			patterns: compile(
				`^SUMMARY\s+(.+)$`,
				`^sum\s+(.+)$`,
			),
		},
		{
			intent: model.IntentHelp,
			arity:  0,
			patterns: compile(
				`^HELP$`,
				`^\?$`,
				`^commands$`,
			),
		},
	}}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Parse uses the package default parser.
func Parse(text string) model.Command {
	return defaultParser.Parse(text)
}

// Parse never fails; unparseable text yields an Invalid command with a
// human-readable ErrorDetail.
func (p *Parser) Parse(text string) model.Command {
	message := strings.TrimSpace(text)
	if message == "" {
		return model.Command{Intent: model.IntentInvalid, RawText: message, ErrorDetail: "Empty message"}
	}

	for _, g := range p.grammars {
		for _, pattern := range g.patterns {
			groups := pattern.FindStringSubmatch(message)
			if groups == nil {
				continue
			}
			return build(g, groups[1:], message)
		}
	}

	return model.Command{
		Intent:      model.IntentInvalid,
		RawText:     message,
		ErrorDetail: fmt.Sprintf("Unknown command: %s...", truncate(message, echoLimit)),
	}
}

func build(g grammar, args []string, raw string) model.Command {
	cmd := model.Command{Intent: g.intent, RawText: raw}

	switch g.arity {
	case 0:
	case 1:
		cmd.Path = Normalize(args[0])
	case 2:
		cmd.Path = Normalize(args[0])
		cmd.DestinationPath = Normalize(args[1])
		if cmd.DestinationPath == "" {
			return model.Command{Intent: model.IntentInvalid, RawText: raw, ErrorDetail: "Failed to parse command"}
		}
	}

	return cmd
}

var repeatedSlash = regexp.MustCompile(`/+`)

// Normalize returns an absolute path with single separators and no trailing
// slash except for the root. Empty input stays empty.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	path = repeatedSlash.ReplaceAllString(path, "/")

	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	return path
}

// Join appends a child name to a normalized folder path.
func Join(folder string, name string) string {
	return Normalize(strings.TrimRight(folder, "/") + "/" + name)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
