package beatleader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"worldmachine/internal/httpapi"

	"golang.org/x/time/rate"
)

const defaultBase = "https://api.beatleader.com"

// ErrNoPlayer is returned when a name search matches nobody.
var ErrNoPlayer = errors.New("no beatleader player found")

type Client struct {
	api     *httpapi.Client
	pages   *rate.Limiter
	perPage int
}

type Option func(*Client)

// WithPageLimiter paces score page fetches.
func WithPageLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.pages = l }
}

func WithHTTP(opts ...httpapi.Option) Option {
	return func(c *Client) { c.api = httpapi.New("beatleader", c.api.BaseURL(), opts...) }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBase
	}
	c := &Client{
		api:     httpapi.New("beatleader", baseURL),
		pages:   rate.NewLimiter(rate.Limit(2), 1),
		perPage: 100,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Player struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PP          float64 `json:"pp"`
	Rank        int     `json:"rank"`
	CountryRank int     `json:"countryRank"`
	Country     string  `json:"country"`
	Avatar      string  `json:"avatar"`
}

func (p Player) ProfileURL() string {
	return "https://beatleader.com/u/" + p.ID
}

type Score struct {
	Accuracy    float64     `json:"accuracy"`
	Modifiers   string      `json:"modifiers"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

type Leaderboard struct {
	Song       Song       `json:"song"`
	Difficulty Difficulty `json:"difficulty"`
}

type Song struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

type Difficulty struct {
	DifficultyName string `json:"difficultyName"`
	ModeName       string `json:"modeName"`
}

// ModifierList splits the comma separated modifier string.
func (s Score) ModifierList() []string {
	var out []string
	for _, m := range strings.Split(s.Modifiers, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

type listDTO[T any] struct {
	Data []T `json:"data"`
}

func (c *Client) GetPlayer(ctx context.Context, id string) (Player, error) {
	var p Player
	if err := c.api.GetJSON(ctx, "/player/"+url.PathEscape(id), nil, &p); err != nil {
		return Player{}, err
	}
	return p, nil
}

func (c *Client) SearchPlayers(ctx context.Context, query string) ([]Player, error) {
	var dto listDTO[Player]
	if err := c.api.GetJSON(ctx, "/players", url.Values{"search": {query}}, &dto); err != nil {
		return nil, err
	}
	return dto.Data, nil
}

// ParseIdentifier pulls the id or name out of a profile URL. numeric reports
// whether the result can be fetched directly.
func ParseIdentifier(identifier string) (value string, numeric bool) {
	value = strings.TrimSpace(identifier)
	switch {
	case strings.Contains(value, "/u/"):
		value = pathSegment(value, "/u/")
	case strings.Contains(value, "/player/"):
		value = pathSegment(value, "/player/")
		return value, true
	}
	return value, isDigits(value)
}

func pathSegment(s, marker string) string {
	s = s[strings.LastIndex(s, marker)+len(marker):]
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// ResolveProfile accepts a profile URL, an API player URL, a numeric id, or
// a player name. Names resolve to the first search hit.
func (c *Client) ResolveProfile(ctx context.Context, identifier string) (Player, error) {
	value, numeric := ParseIdentifier(identifier)
	if value == "" {
		return Player{}, ErrNoPlayer
	}
	if !numeric {
		players, err := c.SearchPlayers(ctx, value)
		if err != nil {
			return Player{}, err
		}
		if len(players) == 0 {
			return Player{}, ErrNoPlayer
		}
		value = players[0].ID
	}
	return c.GetPlayer(ctx, value)
}

// ScorePage fetches one page of a player's scores, newest first.
func (c *Client) ScorePage(ctx context.Context, playerID string, page int) ([]Score, error) {
	q := url.Values{}
	q.Set("sortBy", "date")
	q.Set("order", "desc")
	q.Set("page", strconv.Itoa(page))
	q.Set("count", strconv.Itoa(c.perPage))

	var dto listDTO[Score]
	if err := c.api.GetJSON(ctx, fmt.Sprintf("/player/%s/scores", url.PathEscape(playerID)), q, &dto); err != nil {
		return nil, err
	}
	return dto.Data, nil
}

// RecentScores walks up to maxPages pages and stops at the first empty
// one. A failure after the first page keeps what was already fetched.
func (c *Client) RecentScores(ctx context.Context, playerID string, maxPages int) ([]Score, error) {
	var all []Score
	for page := 1; page <= maxPages; page++ {
		if err := c.pages.Wait(ctx); err != nil {
			return all, err
		}
		scores, err := c.ScorePage(ctx, playerID, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			break
		}
		if len(scores) == 0 {
			break
		}
		all = append(all, scores...)
	}
	return all, nil
}
