package parking

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/parking-reservation/backend/internal/storage/models"
)

const fallbackPrefix = "slot"

// firstToken returns the first space separated word of a lot name.
// "Mall A" yields "Mall".
func firstToken(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return fallbackPrefix
	}
	return fields[0]
}

// sanitizedPrefix strips whitespace and every non alphanumeric character from name.
// "Mall A" yields "MallA".
func sanitizedPrefix(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackPrefix
	}
	return b.String()
}

func slotCode(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// codeIndex parses a trailing "-<integer>" suffix.
func codeIndex(code string) (int, bool) {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || i == len(code)-1 {
		return 0, false
	}
	digits := code[i+1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// sortForShrink orders slots the way a shrink consumes them: indexed slots by
// index descending, then slots without an index by creation time descending.
func sortForShrink(slots []models.Slot) {
	sort.SliceStable(slots, func(a, b int) bool {
		ia, oka := codeIndex(slots[a].Code)
		ib, okb := codeIndex(slots[b].Code)
		switch {
		case oka && okb:
			return ia > ib
		case oka:
			return true
		case okb:
			return false
		}
		return slots[a].CreatedAt.After(slots[b].CreatedAt)
	})
}

// sortNatural orders slots by code with numeric suffixes compared as numbers,
// so "Mall-2" comes before "Mall-10".
func sortNatural(slots []models.Slot) {
	sort.SliceStable(slots, func(a, b int) bool {
		return naturalLess(slots[a].Code, slots[b].Code)
	})
}

func naturalLess(a, b string) bool {
	ia, oka := codeIndex(a)
	ib, okb := codeIndex(b)
	if oka && okb {
		pa := a[:strings.LastIndexByte(a, '-')]
		pb := b[:strings.LastIndexByte(b, '-')]
		if pa != pb {
			return pa < pb
		}
		return ia < ib
	}
	return a < b
}

// shrinkCandidates picks up to n removable slots in shrink order.
// A reservation whose hold lapsed at or before now is removable.
func shrinkCandidates(slots []models.Slot, n int, now time.Time) []models.Slot {
	ordered := make([]models.Slot, len(slots))
	copy(ordered, slots)
	sortForShrink(ordered)

	picked := make([]models.Slot, 0, n)
	for _, s := range ordered {
		if len(picked) == n {
			break
		}
		if s.Effective(now).Status == models.SlotAvailable {
			picked = append(picked, s)
		}
	}
	return picked
}
