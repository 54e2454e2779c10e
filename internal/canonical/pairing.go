package canonical

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/smilelab/canon/internal/fsutil"
)

// PairingMode selects how input files find their ground-truth partner.
type PairingMode string

const (
	// PairByPosition pairs the i-th sorted input entry with the i-th sorted
	// ground-truth entry, whatever their names.
	PairByPosition PairingMode = "position"
	// PairByPrefix pairs an input with the ground-truth file sharing its
	// fixed-length name prefix and track tag (see TrackKey).
	PairByPrefix PairingMode = "prefix"
)

// Pair associates one input file with one ground-truth file (full paths).
type Pair struct {
	Input  string
	Ground string
}

// ListDir returns the regular files of dir as full paths, sorted by name.
// Files ending in skipSuffix (previous outputs) are left out when
// skipSuffix is non-empty.
func ListDir(fsys fsutil.FileSystem, dir, skipSuffix string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if skipSuffix != "" && strings.HasSuffix(e.Name(), skipSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// Eligible reports whether the base name of path contains one of markers.
func Eligible(path string, markers []string) bool {
	name := filepath.Base(path)
	for _, m := range markers {
		if m != "" && strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Prefix returns the first n bytes of name, or name itself when shorter.
// The cut never splits a UTF-8 sequence: it moves back to the rune start.
func Prefix(name string, n int) string {
	if n <= 0 || len(name) <= n {
		return name
	}
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

// TrackKey identifies the session track a file belongs to: the name prefix
// plus the tag that follows it, so "P01S002_s_out.csv" and
// "P01S002_s_gt.csv" share "P01S002_s" while "P01S002_v_out.csv" does not.
func TrackKey(name string, n int) string {
	p := Prefix(name, n)
	tag := strings.TrimPrefix(name[len(p):], "_")
	if i := strings.IndexAny(tag, "_."); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" {
		return p
	}
	return p + "_" + tag
}

// OutputName derives the output file name from an input base name.
func OutputName(inputBase string, prefixLen int, suffix string) string {
	return Prefix(inputBase, prefixLen) + suffix
}

// nameSimilarity scores how alike two file names are, in [0,1].
func nameSimilarity(a, b string) float64 {
	return strutil.Similarity(a, b, metrics.NewLevenshtein())
}

// PairFiles pairs sorted input and ground-truth listings. Only inputs whose
// name carries an eligibility marker produce a pair. The second return
// value lists warnings about skipped or suspicious pairs.
func PairFiles(inputs, grounds []string, opts Options) ([]Pair, []string) {
	switch opts.Pairing {
	case PairByPrefix:
		return pairByPrefix(inputs, grounds, opts)
	default:
		return pairByPosition(inputs, grounds, opts)
	}
}

func pairByPosition(inputs, grounds []string, opts Options) ([]Pair, []string) {
	var pairs []Pair
	var warnings []string

	for i, in := range inputs {
		if !Eligible(in, opts.Markers) {
			continue
		}
		if i >= len(grounds) {
			warnings = append(warnings, fmt.Sprintf("no ground truth at position %d for %s", i, filepath.Base(in)))
			continue
		}

		gt := grounds[i]
		inName, gtName := filepath.Base(in), filepath.Base(gt)
		if Prefix(inName, opts.PrefixLength) != Prefix(gtName, opts.PrefixLength) {
			warnings = append(warnings, fmt.Sprintf("paired %s with %s: names differ (similarity %.2f)",
				inName, gtName, nameSimilarity(inName, gtName)))
		}
		pairs = append(pairs, Pair{Input: in, Ground: gt})
	}

	return pairs, warnings
}

// pairByPrefix pairs on TrackKey. When no ground truth carries the input's
// track key, a ground truth sharing only the name prefix is used if it is
// the only one; ambiguous matches are skipped with a warning.
func pairByPrefix(inputs, grounds []string, opts Options) ([]Pair, []string) {
	byKey := make(map[string][]string, len(grounds))
	byPrefix := make(map[string][]string, len(grounds))
	for _, gt := range grounds {
		name := filepath.Base(gt)
		k := TrackKey(name, opts.PrefixLength)
		byKey[k] = append(byKey[k], gt)
		p := Prefix(name, opts.PrefixLength)
		byPrefix[p] = append(byPrefix[p], gt)
	}

	var pairs []Pair
	var warnings []string
	for _, in := range inputs {
		if !Eligible(in, opts.Markers) {
			continue
		}
		inName := filepath.Base(in)
		key := TrackKey(inName, opts.PrefixLength)

		if gts := byKey[key]; len(gts) > 0 {
			if len(gts) > 1 {
				warnings = append(warnings, fmt.Sprintf("%d ground truth files share track %s; pairing %s with %s",
					len(gts), key, inName, filepath.Base(gts[0])))
			}
			pairs = append(pairs, Pair{Input: in, Ground: gts[0]})
			continue
		}

		switch gts := byPrefix[Prefix(inName, opts.PrefixLength)]; len(gts) {
		case 0:
			warnings = append(warnings, fmt.Sprintf("no ground truth shares the prefix of %s", inName))
		case 1:
			gtName := filepath.Base(gts[0])
			warnings = append(warnings, fmt.Sprintf("paired %s with %s by prefix only (similarity %.2f)",
				inName, gtName, nameSimilarity(inName, gtName)))
			pairs = append(pairs, Pair{Input: in, Ground: gts[0]})
		default:
			warnings = append(warnings, fmt.Sprintf("no ground truth for track %s; %d files share its prefix, skipping %s",
				key, len(gts), inName))
		}
	}

	return pairs, warnings
}
