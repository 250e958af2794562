package bot

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

var (
	errDiceFormat = errors.New("Please use XdY format (e.g., 1d6, 2d20)")
	errDiceCount  = errors.New("Number of dice must be between 1 and 100")
	errDiceSides  = errors.New("Number of sides must be between 2 and 1000")
)

// ParseDice reads XdY notation. A missing X means one die.
func ParseDice(s string) (count, sides int, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "d")
	if len(parts) != 2 {
		return 0, 0, errDiceFormat
	}
	count = 1
	if parts[0] != "" {
		if count, err = strconv.Atoi(parts[0]); err != nil {
			return 0, 0, errDiceFormat
		}
	}
	if sides, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, errDiceFormat
	}
	if count < 1 || count > 100 {
		return 0, 0, errDiceCount
	}
	if sides < 2 || sides > 1000 {
		return 0, 0, errDiceSides
	}
	return count, sides, nil
}

func rollDice(rnd *rand.Rand, count, sides int) []int {
	rolls := make([]int, count)
	for i := range rolls {
		rolls[i] = rnd.Intn(sides) + 1
	}
	return rolls
}

func rollText(rolls []int, sides int) string {
	if len(rolls) == 1 {
		return fmt.Sprintf("🎲 You rolled a **%d**", rolls[0])
	}
	shown := make([]string, len(rolls))
	total := 0
	for i, r := range rolls {
		shown[i] = strconv.Itoa(r)
		total += r
	}
	return fmt.Sprintf("🎲 You rolled %dd%d: %s\n**Total:** %d", len(rolls), sides, strings.Join(shown, ", "), total)
}
