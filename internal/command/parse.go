package command

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"
)

// ErrQuotes is returned for an unterminated quoted argument.
var ErrQuotes = errors.New("unbalanced quotes")

// ErrMissingArgument is returned when a required option got no value.
type ErrMissingArgument struct{ Name string }

func (e *ErrMissingArgument) Error() string { return fmt.Sprintf("missing argument %q", e.Name) }

type token struct {
	value string
	start int
}

func tokenize(s string) ([]token, error) {
	var (
		out     []token
		cur     strings.Builder
		inQuote bool
		started bool
		start   int
	)
	for i, r := range s {
		switch {
		case r == '"':
			if !started {
				started, start = true, i
			}
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			if started {
				out = append(out, token{value: cur.String(), start: start})
				cur.Reset()
				started = false
			}
		default:
			if !started {
				started, start = true, i
			}
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, ErrQuotes
	}
	if started {
		out = append(out, token{value: cur.String(), start: start})
	}
	return out, nil
}

// ParsePrefix fills a Context from the text after the prefix and command
// name. The first token picks a subcommand when def has any; remaining
// tokens fill options in order and the last string option takes the rest
// of the line verbatim.
func ParsePrefix(def *discordgo.ApplicationCommand, rest string, c *Context) error {
	tokens, err := tokenize(rest)
	if err != nil {
		return err
	}
	options := def.Options
	if hasSubcommands(def.Options) {
		if len(tokens) == 0 {
			return &ErrMissingArgument{Name: "subcommand"}
		}
		name := strings.ToLower(tokens[0].value)
		var sub *discordgo.ApplicationCommandOption
		for _, opt := range def.Options {
			if opt.Name == name {
				sub = opt
				break
			}
		}
		if sub == nil {
			return fmt.Errorf("unknown subcommand %q", tokens[0].value)
		}
		c.Sub = sub.Name
		options = sub.Options
		tokens = tokens[1:]
	}

	lastString := -1
	for i, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			lastString = i
		}
	}

	ti := 0
	for i, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionAttachment {
			continue
		}
		if ti >= len(tokens) {
			if opt.Required {
				return &ErrMissingArgument{Name: opt.Name}
			}
			continue
		}
		if i == lastString && i == lastPositional(options) {
			c.Args[opt.Name] = strings.TrimSpace(unquote(rest[tokens[ti].start:]))
			ti = len(tokens)
			continue
		}
		c.Args[opt.Name] = tokens[ti].value
		ti++
	}
	for _, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionAttachment && opt.Required && len(c.Attachments) == 0 {
			return &ErrMissingArgument{Name: opt.Name}
		}
	}
	return nil
}

func lastPositional(options []*discordgo.ApplicationCommandOption) int {
	last := -1
	for i, opt := range options {
		if opt.Type != discordgo.ApplicationCommandOptionAttachment {
			last = i
		}
	}
	return last
}

// unquote strips one pair of surrounding quotes from the remainder.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' && !strings.Contains(s[1:len(s)-1], `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

func hasSubcommands(options []*discordgo.ApplicationCommandOption) bool {
	for _, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionSubCommand {
			return true
		}
	}
	return false
}

// ParseInteraction fills a Context from slash command data.
func ParseInteraction(data discordgo.ApplicationCommandInteractionData, c *Context) {
	options := data.Options
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		c.Sub = options[0].Name
		options = options[0].Options
	}
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionAttachment:
			id, _ := opt.Value.(string)
			if data.Resolved != nil {
				if att := data.Resolved.Attachments[id]; att != nil {
					c.Attachments = append(c.Attachments, att)
				}
			}
		case discordgo.ApplicationCommandOptionBoolean:
			if opt.BoolValue() {
				c.Args[opt.Name] = "true"
			} else {
				c.Args[opt.Name] = "false"
			}
		default:
			c.Args[opt.Name] = fmt.Sprint(opt.Value)
		}
	}
}
