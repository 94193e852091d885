package platforms

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// ErrInvalidChoice indicates that a platform form value is not of the form "<id>,<name>".
var ErrInvalidChoice = errors.New("platforms: invalid platform choice")

// Raw is a platform record as returned by the metadata source.
type Raw struct {
	ID   int
	Name string
}

// Canonical is the normalized platform identity used throughout the backlog.
type Canonical struct {
	PlatformID   int    `json:"platform_id"`
	PlatformName string `json:"platform_name"`
}

// nameReplacements maps upstream synonyms onto their canonical display name.
var nameReplacements = map[string]string{
	"PC (Microsoft Windows)":                     "Microsoft Windows (PC)",
	"Mac":                                        "macOS",
	"Xbox Series":                                "Xbox Series X|S",
	"Google Stadia":                              "Stadia",
	"Nintendo Entertainment System (NES)":        "NES",
	"Super Nintendo Entertainment System (SNES)": "SNES",
	"Family Computer Disk System":                "Famicom",
	"Family Computer (FAMICOM)":                  "Famicom",
}

// idReplacements collapses upstream ids that were merged into a single platform.
var idReplacements = map[int]int{
	203: 170, // Google Stadia
	51:  99,  // Famicom
}

var folder = cases.Fold()

// Canonicalize applies the name and id replacement tables to a single record.
// Canonical values are never keys of either table, so the mapping is a fixed point.
func Canonicalize(raw Raw) Canonical {
	name := raw.Name
	if replacement, ok := nameReplacements[name]; ok {
		name = replacement
	}
	id := raw.ID
	if replacement, ok := idReplacements[id]; ok {
		id = replacement
	}
	return Canonical{PlatformID: id, PlatformName: name}
}

// Normalize canonicalizes, deduplicates and sorts platform records by case-folded name.
// The first occurrence of a duplicate canonical pair wins and ties keep input order.
func Normalize(raw []Raw) []Canonical {
	normalized := make([]Canonical, 0, len(raw))
	seen := make(map[Canonical]struct{}, len(raw))
	for _, record := range raw {
		canonical := Canonicalize(record)
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	SortByName(normalized)
	return normalized
}

// SortByName orders platforms case-insensitively by name, keeping the order of ties.
func SortByName(entries []Canonical) {
	sort.SliceStable(entries, func(i, j int) bool {
		return folder.String(entries[i].PlatformName) < folder.String(entries[j].PlatformName)
	})
}

// Names returns the platform names in order.
func Names(entries []Canonical) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.PlatformName)
	}
	return names
}

// Choice renders the form value used by platform selectors.
func Choice(entry Canonical) string {
	return strconv.Itoa(entry.PlatformID) + "," + entry.PlatformName
}

// ParseChoice parses a "<id>,<name>" form value. Names may themselves contain commas.
func ParseChoice(value string) (Canonical, error) {
	idPart, name, found := strings.Cut(strings.TrimSpace(value), ",")
	if !found {
		return Canonical{}, fmt.Errorf("%w: missing separator", ErrInvalidChoice)
	}
	id, err := strconv.Atoi(strings.TrimSpace(idPart))
	if err != nil || id < 0 {
		return Canonical{}, fmt.Errorf("%w: bad id %q", ErrInvalidChoice, idPart)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Canonical{}, fmt.Errorf("%w: empty name", ErrInvalidChoice)
	}
	return Canonical{PlatformID: id, PlatformName: name}, nil
}

// Contains reports whether the platform list holds the given canonical pair.
func Contains(entries []Canonical, target Canonical) bool {
	for _, entry := range entries {
		if entry == target {
			return true
		}
	}
	return false
}
