// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releases parses raw release titles into structured descriptors.
//
// Parsing is a pure function of the input string: the same title always
// yields the same descriptor. The moistari/rls parser does the heavy
// lifting for group and media metadata extraction; on top of that we
// classify game-specific markers (UPDATE, DLC, REPACK, PROPER, CRACKED,
// edition tags) and isolate the game-name portion of the title.
package releases

import (
	"errors"
	"regexp"
	"strings"

	"github.com/moistari/rls"
)

// ErrUnparsableTitle is returned when no tokens resembling a release
// name can be extracted from the input.
var ErrUnparsableTitle = errors.New("unparsable release title")

// Descriptor is the normalized representation of a raw release title.
// Descriptors are produced fresh per candidate and never mutated.
type Descriptor struct {
	Raw  string
	Name string
	// NameTokens are the lowercase, punctuation-stripped tokens of Name.
	NameTokens []string
	Group      string
	Version    string
	Update     bool
	DLC        bool
	Repack     bool
	Proper     bool
	Cracked    bool
	Editions   []string
	Languages  []string
	Resolution string
	Codec      []string
	Platform   string
	// P2P marks non-scene releases (repacks and known repack groups).
	P2P bool
}

// HasVersion reports whether the title carried an explicit version or
// update ordinal.
func (d *Descriptor) HasVersion() bool {
	return d.Version != ""
}

// IsAddon reports whether the title is an update/patch or DLC rather
// than a base-game release.
func (d *Descriptor) IsAddon() bool {
	return d.Update || d.DLC || d.HasVersion()
}

var (
	reGroupSuffix = regexp.MustCompile(`-([A-Za-z0-9][A-Za-z0-9_]{1,19})$`)
	reVersion     = regexp.MustCompile(`^[vV]\d+(?:\.\d+)*$|^\d+(?:\.\d+)+[a-z]?$`)
	reOrdinal     = regexp.MustCompile(`^\d{1,4}$`)
	rePunct       = regexp.MustCompile(`[:'!,?&]`)
	reAlnum       = regexp.MustCompile(`[A-Za-z0-9]`)
)

var updateMarkers = map[string]struct{}{
	"update":   {},
	"patch":    {},
	"hotfix":   {},
	"crackfix": {},
	"dirfix":   {},
	"build":    {},
}

var dlcMarkers = map[string]struct{}{
	"dlc":       {},
	"dlcs":      {},
	"expansion": {},
	"addon":     {},
}

var editionMarkers = map[string]struct{}{
	"goty":        {},
	"deluxe":      {},
	"ultimate":    {},
	"definitive":  {},
	"complete":    {},
	"anniversary": {},
	"remastered":  {},
	"enhanced":    {},
	"collectors":  {},
	"premium":     {},
	"edition":     {},
}

// noiseMarkers end the name portion but are retained as metadata.
var noiseMarkers = map[string]struct{}{
	"multi":    {},
	"repack":   {},
	"proper":   {},
	"cracked":  {},
	"crack":    {},
	"incl":     {},
	"internal": {},
	"macos":    {},
	"linux":    {},
	"win64":    {},
	"win32":    {},
	"windows":  {},
	"nsw":      {},
	"ps4":      {},
	"ps5":      {},
	"xbox":     {},
	"gog":      {},
	"steam":    {},
	"drmfree":  {},
	"x264":     {},
	"x265":     {},
	"1080p":    {},
	"720p":     {},
	"2160p":    {},
}

var p2pGroups = map[string]struct{}{
	"fitgirl":  {},
	"dodi":     {},
	"elamigos": {},
	"gnarly":   {},
	"kaos":     {},
	"p2p":      {},
}

// Parser turns raw release titles into Descriptors.
type Parser struct{}

// NewParser creates a release title parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse produces a Descriptor for a raw release title, or
// ErrUnparsableTitle when the input carries no usable name tokens.
func (p *Parser) Parse(raw string) (*Descriptor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !reAlnum.MatchString(trimmed) {
		return nil, ErrUnparsableTitle
	}

	parsed := rls.ParseString(trimmed)

	d := &Descriptor{
		Raw:        raw,
		Group:      strings.TrimSpace(parsed.Group),
		Resolution: parsed.Resolution,
		Codec:      append([]string(nil), parsed.Codec...),
		Languages:  append([]string(nil), parsed.Language...),
		Platform:   parsed.Platform,
	}

	rest := trimmed
	if d.Group == "" {
		if m := reGroupSuffix.FindStringSubmatch(rest); m != nil {
			d.Group = m[1]
			rest = strings.TrimSuffix(rest, "-"+m[1])
		}
	} else if idx := strings.LastIndex(rest, "-"+d.Group); idx >= 0 && idx+len(d.Group)+1 == len(rest) {
		rest = rest[:idx]
	}

	tokens := tokenize(rest)
	if len(tokens) == 0 {
		return nil, ErrUnparsableTitle
	}

	nameEnd := p.classify(d, tokens)
	if nameEnd == 0 {
		return nil, ErrUnparsableTitle
	}

	if d.Version == "" && parsed.Version != "" {
		d.Version = strings.TrimPrefix(strings.ToLower(parsed.Version), "v")
	}

	d.Name = strings.Join(tokens[:nameEnd], " ")
	d.NameTokens = NormalizeTokens(d.Name)
	if len(d.NameTokens) == 0 {
		return nil, ErrUnparsableTitle
	}

	if _, ok := p2pGroups[strings.ToLower(d.Group)]; ok || d.Repack {
		d.P2P = true
	}

	return d, nil
}

// classify walks the tokens, fills marker fields on d and returns the
// index where the name portion ends (the longest leading run before any
// recognized marker).
func (p *Parser) classify(d *Descriptor, tokens []string) int {
	nameEnd := -1
	expectOrdinal := false

	for i, tok := range tokens {
		lower := strings.ToLower(tok)

		switch {
		case expectOrdinal && (reOrdinal.MatchString(lower) || reVersion.MatchString(lower)):
			d.Version = strings.TrimPrefix(lower, "v")
			expectOrdinal = false
			continue
		case isVersionToken(lower):
			d.Version = strings.TrimPrefix(lower, "v")
			if nameEnd < 0 {
				nameEnd = i
			}
			continue
		}
		expectOrdinal = false

		if _, ok := updateMarkers[lower]; ok {
			d.Update = true
			expectOrdinal = true
			if nameEnd < 0 {
				nameEnd = i
			}
			continue
		}
		if _, ok := dlcMarkers[lower]; ok {
			d.DLC = true
			if nameEnd < 0 {
				nameEnd = i
			}
			continue
		}
		if _, ok := editionMarkers[lower]; ok {
			d.Editions = append(d.Editions, tok)
			if nameEnd < 0 {
				nameEnd = i
			}
			continue
		}
		if isNoiseToken(lower) {
			switch lower {
			case "repack":
				d.Repack = true
			case "proper":
				d.Proper = true
			case "cracked", "crack":
				d.Cracked = true
			}
			if nameEnd < 0 {
				nameEnd = i
			}
			continue
		}
	}

	if nameEnd < 0 {
		nameEnd = len(tokens)
	}
	return nameEnd
}

func isVersionToken(lower string) bool {
	// Bare integers stay in the name ("Far Cry 6"); only dotted or
	// v-prefixed forms count as standalone version tags.
	return reVersion.MatchString(lower)
}

func isNoiseToken(lower string) bool {
	if _, ok := noiseMarkers[lower]; ok {
		return true
	}
	// MULTi12, MULTI5 and similar language-count tags.
	if strings.HasPrefix(lower, "multi") && len(lower) > 5 {
		for _, r := range lower[5:] {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// tokenize splits a title on scene delimiters, preserving original case.
// Dots between digits are kept so version tags like v1.04 survive as a
// single token.
func tokenize(s string) []string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i, r := range runes {
		switch r {
		case '.':
			if i > 0 && i < len(runes)-1 && isDigit(runes[i-1]) && isDigit(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case '_', '(', ')', '[', ']', '+':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	return strings.Fields(b.String())
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// NormalizeTokens lowercases a name, strips punctuation and collapses
// delimiters, returning comparable tokens. Shared with the match scorer
// so both sides of a comparison normalize identically.
func NormalizeTokens(name string) []string {
	lower := strings.ToLower(name)
	lower = rePunct.ReplaceAllString(lower, "")
	lower = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(lower)
	return strings.Fields(lower)
}
