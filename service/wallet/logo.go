package wallet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LogoKind tags how a logo should be rendered.
type LogoKind string

const (
	// LogoKnown names a logo the presentation layer ships with; Value is the symbol.
	LogoKnown LogoKind = "known"
	// LogoURI points at an image; Value is the URI.
	LogoURI LogoKind = "uri"
	// LogoGeneric asks for a placeholder; Value is the text to show on it.
	LogoGeneric LogoKind = "generic"
)

// Logo is a display-independent description of a token's logo.
type Logo struct {
	Kind  LogoKind `json:"kind"`
	Value string   `json:"value"`
}

// LogoSet maps mints that have bundled artwork to the symbol the
// presentation layer knows them by.
type LogoSet map[string]string

// DefaultLogos returns the bundled logos for SOL and the major stablecoins.
func DefaultLogos() LogoSet {
	return LogoSet{
		"So11111111111111111111111111111111111111112":  "SOL",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	}
}

// Resolve picks the logo for an asset: bundled artwork first, then the
// indexer's image, then a placeholder with the symbol.
func (s LogoSet) Resolve(mint, symbol, imageURI string) Logo {
	if known, ok := s[mint]; ok {
		return Logo{Kind: LogoKnown, Value: known}
	}
	if isImageURI(imageURI) {
		return Logo{Kind: LogoURI, Value: imageURI}
	}
	placeholder := strings.ToUpper(strings.TrimSpace(symbol))
	if placeholder == "" && len(mint) >= 4 {
		placeholder = mint[:4]
	}
	return Logo{Kind: LogoGeneric, Value: placeholder}
}

func isImageURI(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "ipfs://") ||
		strings.HasPrefix(s, "ar://") ||
		strings.HasPrefix(s, "data:image/")
}

type logoJSON struct {
	Kind  LogoKind `json:"kind"`
	Value string   `json:"value"`
}

// MarshalJSON writes the zero Logo as a generic placeholder so every encoded
// logo decodes again.
func (l Logo) MarshalJSON() ([]byte, error) {
	kind := l.Kind
	if kind == "" {
		kind = LogoGeneric
	}
	return json.Marshal(logoJSON{Kind: kind, Value: l.Value})
}

// UnmarshalJSON rejects unknown kinds. A missing or empty kind is generic.
func (l *Logo) UnmarshalJSON(b []byte) error {
	var raw logoJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "":
		raw.Kind = LogoGeneric
	case LogoKnown, LogoURI, LogoGeneric:
	default:
		return fmt.Errorf("unknown logo kind %q", raw.Kind)
	}
	l.Kind, l.Value = raw.Kind, raw.Value
	return nil
}
