package chat

import (
	"fmt"
	"strings"
	"time"
)

var languages = map[string]string{
	"en": "English",
	"ro": "Romanian",
	"de": "German",
	"es": "Spanish",
	"fr": "French",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"hu": "Hungarian",
	"ru": "Russian",
	"sr": "Serbian",
	"tr": "Turkish",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

// LanguageName maps a language code such as "de" or "pt-BR" to the name used
// in prompts. Unknown codes fall back to English.
func LanguageName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if name, ok := languages[code]; ok {
		return name
	}
	return "English"
}

// BuildSystemPrompt renders the assistant's instructions with live figures.
func BuildSystemPrompt(lang string, now time.Time, stats Stats) string {
	var b strings.Builder
	b.WriteString("You are the community assistant of the Official World Family Network (OWFN), ")
	b.WriteString("a Solana project that funds verified social cases such as medical care and education.\n")
	fmt.Fprintf(&b, "Always answer in %s. Be warm, concise and factual.\n", LanguageName(lang))
	fmt.Fprintf(&b, "The current date and time is %s.\n\n", now.UTC().Format(time.RFC1123))

	b.WriteString("Live figures")
	if stats.Range != nil {
		fmt.Fprintf(&b, " for %s", stats.Range)
	}
	b.WriteString(":\n")
	if stats.Fallback {
		b.WriteString("- Live figures are temporarily unavailable. Do not guess numbers; invite the user to check the dashboard.\n")
	} else {
		qualifier := ""
		if stats.Approximate {
			qualifier = " (approximately, recent activity only)"
		}
		fmt.Fprintf(&b, "- Presale raised: %s SOL%s from %d contributors in %d transactions.\n",
			formatAmount(stats.PresaleSOL, 4), qualifier, stats.PresaleContributors, stats.PresaleTransactions)
		fmt.Fprintf(&b, "- OWFN allocated to contributors: %s.\n", formatAmount(stats.PresaleOWFN, 0))
		fmt.Fprintf(&b, "- Social cases: %d, with $%s donated by %d donors.\n",
			stats.DonationCases, formatAmount(stats.DonationsUSD, 2), stats.Donors)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Never give financial advice or promise returns.\n")
	b.WriteString("- Never ask for seed phrases or private keys.\n")
	b.WriteString("- If you do not know something, say so.\n")
	return b.String()
}

// formatAmount renders f with the given decimals and thousands separators.
func formatAmount(f float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, f)
	intPart, frac, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
