package beatsaver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"worldmachine/internal/httpapi"
)

const defaultBase = "https://api.beatsaver.com"

type Client struct {
	api *httpapi.Client
}

func New(baseURL string, opts ...httpapi.Option) *Client {
	if baseURL == "" {
		baseURL = defaultBase
	}
	return &Client{api: httpapi.New("beatsaver", baseURL, opts...)}
}

type Map struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Metadata Metadata  `json:"metadata"`
	Versions []Version `json:"versions"`
}

type Metadata struct {
	SongName        string  `json:"songName"`
	SongAuthorName  string  `json:"songAuthorName"`
	LevelAuthorName string  `json:"levelAuthorName"`
	BPM             float64 `json:"bpm"`
	Duration        int     `json:"duration"`
}

type Version struct {
	Hash        string `json:"hash"`
	CoverURL    string `json:"coverURL"`
	DownloadURL string `json:"downloadURL"`
	Diffs       []Diff `json:"diffs"`
}

type Diff struct {
	Characteristic string  `json:"characteristic"`
	Difficulty     string  `json:"difficulty"`
	NPS            float64 `json:"nps"`
	Notes          int     `json:"notes"`
	NJS            float64 `json:"njs"`
}

// GetMap fetches a map by BSR code. Unknown codes return httpapi.ErrNotFound.
func (c *Client) GetMap(ctx context.Context, code string) (Map, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Map{}, fmt.Errorf("empty map code")
	}
	var m Map
	if err := c.api.GetJSON(ctx, "/maps/id/"+url.PathEscape(code), nil, &m); err != nil {
		return Map{}, err
	}
	return m, nil
}

// SongHash is the hash of the first published version.
func (m Map) SongHash() string {
	for _, v := range m.Versions {
		if v.Hash != "" {
			return v.Hash
		}
	}
	return ""
}

// NormalizeDifficulty turns BeatSaver's ExpertPlus into Expert+.
func NormalizeDifficulty(name string) string {
	return strings.ReplaceAll(name, "Plus", "+")
}

// FindDifficulty looks up a characteristic and difficulty across versions,
// ignoring case.
func (m Map) FindDifficulty(characteristic, difficulty string) (Version, Diff, bool) {
	for _, v := range m.Versions {
		for _, d := range v.Diffs {
			if strings.EqualFold(d.Characteristic, characteristic) &&
				strings.EqualFold(NormalizeDifficulty(d.Difficulty), NormalizeDifficulty(difficulty)) {
				return v, d, true
			}
		}
	}
	return Version{}, Diff{}, false
}

func PageURL(code string) string {
	return "https://beatsaver.com/maps/" + strings.TrimPrefix(code, "!")
}
