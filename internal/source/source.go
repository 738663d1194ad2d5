// Package source discovers configuration sources across the three
// precedence tiers and resolves them into a single ordered ingestion
// list.
//
// Resolution is two separate steps on purpose: tier precedence decides
// which file wins for a given basename, and the lexicographic sort
// decides in what sequence the surviving files are applied to the
// model. Conflating the two is the classic way to get this wrong.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tier is one of the three precedence levels for configuration
// sources, lowest to highest.
type Tier int

const (
	TierSystemDefault Tier = iota
	TierSiteAdmin
	TierRuntimeOverride
)

// String returns the human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierSystemDefault:
		return "system-default"
	case TierSiteAdmin:
		return "site-admin"
	case TierRuntimeOverride:
		return "runtime-override"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Dir returns the tier's directory relative to the root.
func (t Tier) Dir() string {
	switch t {
	case TierSystemDefault:
		return "lib/netplan"
	case TierSiteAdmin:
		return "etc/netplan"
	case TierRuntimeOverride:
		return "run/netplan"
	}
	return ""
}

// tiers lists all tiers in ascending precedence order.
var tiers = []Tier{TierSystemDefault, TierSiteAdmin, TierRuntimeOverride}

// Source is one discovered configuration file. Its identity within a
// run is the basename; at most one Source per basename survives the
// precedence merge.
type Source struct {
	Path     string
	Tier     Tier
	Basename string
}

// SelectWinners scans all three tiers under root and returns, per
// basename, the Source from the highest tier that provides it. A tier
// directory that does not exist or contains no matches is not an
// error; any other filesystem error is.
func SelectWinners(root string) (map[string]Source, error) {
	winners := make(map[string]Source)
	for _, tier := range tiers {
		dir := filepath.Join(root, tier.Dir())
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("enumerating %s sources in %s: %w", tier, dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
				continue
			}
			winners[entry.Name()] = Source{
				Path:     filepath.Join(dir, entry.Name()),
				Tier:     tier,
				Basename: entry.Name(),
			}
		}
	}
	return winners, nil
}

// SortByBasename orders the surviving sources by byte-wise
// lexicographic comparison of their basenames. This is the application
// order: a runtime-override file whose basename sorts earlier is
// ingested before a system-default file that sorts later.
func SortByBasename(winners map[string]Source) []Source {
	names := make([]string, 0, len(winners))
	for name := range winners {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Source, len(names))
	for i, name := range names {
		out[i] = winners[name]
	}
	return out
}

// Enumerate resolves root's three tier directories into the ordered
// list of sources to ingest.
func Enumerate(root string) ([]Source, error) {
	winners, err := SelectWinners(root)
	if err != nil {
		return nil, err
	}
	return SortByBasename(winners), nil
}
