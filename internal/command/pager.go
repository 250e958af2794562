package command

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
)

const pagerPrefix = "pager:"

// Pager keeps paginated embed sets in memory and answers the prev/next
// buttons attached to them. Sets expire after ttl.
type Pager struct {
	mu   sync.Mutex
	sets map[string]pageSet
	seq  atomic.Uint64
	ttl  time.Duration
	now  func() time.Time
}

type pageSet struct {
	pages   [][]*discordgo.MessageEmbed
	expires time.Time
}

func NewPager(ttl time.Duration) *Pager {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Pager{sets: make(map[string]pageSet), ttl: ttl, now: time.Now}
}

// Message stores pages and returns the first one ready to send. Buttons are
// only attached when there is more than one page.
func (p *Pager) Message(pages [][]*discordgo.MessageEmbed) *discordgo.MessageSend {
	if len(pages) == 0 {
		return &discordgo.MessageSend{}
	}
	if len(pages) == 1 {
		return &discordgo.MessageSend{Embeds: pages[0]}
	}

	id := strconv.FormatUint(p.seq.Add(1), 36)
	p.mu.Lock()
	p.sweep()
	p.sets[id] = pageSet{pages: pages, expires: p.now().Add(p.ttl)}
	p.mu.Unlock()

	return &discordgo.MessageSend{
		Embeds:     pages[0],
		Components: pagerButtons(id, 0, len(pages)),
	}
}

// Handle answers a pager button. ok is false for custom ids the pager does
// not own.
func (p *Pager) Handle(customID string) (resp *discordgo.InteractionResponse, ok bool) {
	if !strings.HasPrefix(customID, pagerPrefix) {
		return nil, false
	}
	id, rawPage, found := strings.Cut(strings.TrimPrefix(customID, pagerPrefix), ":")
	page, err := strconv.Atoi(rawPage)
	if !found || err != nil {
		return nil, false
	}

	p.mu.Lock()
	set, exists := p.sets[id]
	if exists && p.now().After(set.expires) {
		delete(p.sets, id)
		exists = false
	}
	p.mu.Unlock()

	if !exists {
		return &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{Components: []discordgo.MessageComponent{}},
		}, true
	}
	if page < 0 {
		page = 0
	}
	if page >= len(set.pages) {
		page = len(set.pages) - 1
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     set.pages[page],
			Components: pagerButtons(id, page, len(set.pages)),
		},
	}, true
}

func (p *Pager) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sets)
}

// sweep drops expired sets; callers hold mu.
func (p *Pager) sweep() {
	now := p.now()
	for id, set := range p.sets {
		if now.After(set.expires) {
			delete(p.sets, id)
		}
	}
}

func pagerButtons(id string, page, total int) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				&discordgo.Button{
					Emoji:    &discordgo.ComponentEmoji{Name: "⬅️"},
					Style:    discordgo.PrimaryButton,
					CustomID: fmt.Sprintf("%s%s:%d", pagerPrefix, id, page-1),
					Disabled: page == 0,
				},
				&discordgo.Button{
					Label:    fmt.Sprintf("%d/%d", page+1, total),
					Style:    discordgo.SecondaryButton,
					CustomID: fmt.Sprintf("%s%s:counter", pagerPrefix, id),
					Disabled: true,
				},
				&discordgo.Button{
					Emoji:    &discordgo.ComponentEmoji{Name: "➡️"},
					Style:    discordgo.PrimaryButton,
					CustomID: fmt.Sprintf("%s%s:%d", pagerPrefix, id, page+1),
					Disabled: page == total-1,
				},
			},
		},
	}
}

// Chunk splits embeds into pages of size n.
func Chunk(embeds []*discordgo.MessageEmbed, n int) [][]*discordgo.MessageEmbed {
	if n <= 0 {
		n = 1
	}
	var pages [][]*discordgo.MessageEmbed
	for i := 0; i < len(embeds); i += n {
		end := min(i+n, len(embeds))
		pages = append(pages, embeds[i:end])
	}
	return pages
}
