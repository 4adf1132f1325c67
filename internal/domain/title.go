package domain

// TitleLimit is the platform's visible title length, counted excluding
// emoji.
const TitleLimit = 20

// TextLength counts the title runes that the platform charges against
// the limit; emoji and their joiners are free.
func TextLength(title string) int {
	count := 0
	for _, r := range title {
		if !isEmojiRune(r) {
			count++
		}
	}
	return count
}

// TruncateTitle applies the platform truncation policy: when the
// emoji-excluded length fits the limit the title passes through
// unmodified, emoji included. When it exceeds the limit the emoji are
// dropped and the remaining text is cut to exactly the limit.
func TruncateTitle(title string) string {
	if TextLength(title) <= TitleLimit {
		return title
	}

	kept := make([]rune, 0, TitleLimit)
	for _, r := range title {
		if isEmojiRune(r) {
			continue
		}
		kept = append(kept, r)
		if len(kept) == TitleLimit {
			break
		}
	}
	return string(kept)
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF: // symbols and pictographs
		return true
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport
		return true
	case r >= 0x1F900 && r <= 0x1F9FF: // supplemental symbols
		return true
	case r >= 0x1FA70 && r <= 0x1FAFF: // extended pictographs
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	case r >= 0x2600 && r <= 0x26FF: // misc symbols
		return true
	case r >= 0x2700 && r <= 0x27BF: // dingbats
		return true
	case r == 0xFE0F || r == 0x200D || r == 0x20E3: // variation selector, zwj, keycap
		return true
	}
	return false
}
