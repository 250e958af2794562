// Package messages holds the bot's flavored reply strings.
//
// Each key maps to a few interchangeable variants; one is picked at random
// per reply. Variants use {shorthand} placeholders for the bot's custom
// emoji and {name} placeholders filled from Args.
package messages

import (
	"encoding/json"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"worldmachine/internal/errs"

	"github.com/tailscale/hujson"
)

type Category string

const (
	Errors   Category = "errors"
	Warnings Category = "warnings"
	Info     Category = "info"
)

// Args fills {name} placeholders.
type Args map[string]any

var Shorthands = map[string]string{
	"normal":   "<:en:1379300688852549663>",
	"angry":    "<:en_surprised:1379300752656171029>",
	"unamused": "<:en_what:1379300810269130793>",
	"cry":      "<:en_cry:1379307090346115172>",
	"dizzy":    "<:en_bsod:1379308614660919336>",
	"sleep":    "<:en_yawn:1379307375227568190>",
	"drunk":    "<:en_yawn:1379307375227568190>",
	"eat":      "<:en_83c:1379307816388526110>",
	"fear":     "<:en_shock:1379307622099980318>",
	"smug":     "<:en_83c:1379307816388526110>",
	"huh":      "<:en_speak:1379301712845602889>",
	"love":     "<:en_pancakes:1379308143573598298>",
}

var fallbacks = map[Category]string{
	Errors:   "{cry} An unknown error occurred.",
	Warnings: "{huh} An unknown warning occurred.",
	Info:     "{normal} Information not available.",
}

type Catalog struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	entries map[Category]map[string][]string
}

type Option func(*Catalog)

// WithRand fixes the variant picker, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(c *Catalog) { c.rnd = r }
}

func New(opts ...Option) *Catalog {
	c := &Catalog{
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[Category]map[string][]string, len(defaults)),
	}
	for category, keys := range defaults {
		copied := make(map[string][]string, len(keys))
		for key, variants := range keys {
			copied[key] = append([]string(nil), variants...)
		}
		c.entries[category] = copied
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadOverrides reads a HuJSON document shaped like
// {"errors": {"generic": ["..."]}} and replaces the variants of every key it
// names. A missing file is not an error.
func (c *Catalog) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(err)
	}
	ast, err := hujson.Parse(data)
	if err != nil {
		return errs.Wrap(err)
	}
	ast.Standardize()

	var overrides map[Category]map[string][]string
	if err := json.Unmarshal(ast.Pack(), &overrides); err != nil {
		return errs.Wrap(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for category, keys := range overrides {
		if _, ok := fallbacks[category]; !ok {
			continue
		}
		if c.entries[category] == nil {
			c.entries[category] = make(map[string][]string)
		}
		for key, variants := range keys {
			if len(variants) > 0 {
				c.entries[category][key] = variants
			}
		}
	}
	return nil
}

func (c *Catalog) Error(key string, args Args) string   { return c.Get(Errors, key, args) }
func (c *Catalog) Warning(key string, args Args) string { return c.Get(Warnings, key, args) }
func (c *Catalog) Info(key string, args Args) string    { return c.Get(Info, key, args) }

// Get picks a variant of key in category. Unknown keys yield the category's
// fallback line.
func (c *Catalog) Get(category Category, key string, args Args) string {
	c.mu.Lock()
	variants := c.entries[category][key]
	var message string
	if len(variants) == 0 {
		message = fallbacks[category]
		args = nil
	} else {
		message = variants[c.rnd.Intn(len(variants))]
	}
	c.mu.Unlock()
	return Format(message, args)
}

// Variants lists the raw variants for key.
func (c *Catalog) Variants(category Category, key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries[category][key]...)
}

// Format replaces emoji shorthands first, then args.
func Format(message string, args Args) string {
	for name, value := range Shorthands {
		message = strings.ReplaceAll(message, "{"+name+"}", value)
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		message = strings.ReplaceAll(message, "{"+key+"}", toString(args[key]))
	}
	return message
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case interface{ String() string }:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
