package quality

import (
	"regexp"
	"slices"
	"strings"

	"github.com/Aman-CERP/relindex/internal/catalog"
)

// MB is one mebibyte, the unit of the size thresholds.
const MB = 1024 * 1024

// Rule names, in evaluation order.
const (
	RuleBlacklist   = "blacklist"
	RuleExecutable  = "executable"
	RuleGibberish   = "gibberish"
	RuleHashed      = "hashed"
	RuleInstallBin  = "installbin"
	RulePassworded  = "passworded"
	RulePasswordURL = "passwordurl"
	RuleSample      = "sample"
	RuleSCR         = "scr"
	RuleShort       = "short"
	RuleWMV         = "wmv"
	RuleHuge        = "huge"
	RuleSize        = "size"
)

// RuleNames lists every rule in evaluation order.
var RuleNames = []string{
	RuleBlacklist, RuleExecutable, RuleGibberish, RuleHashed, RuleInstallBin,
	RulePassworded, RulePasswordURL, RuleSample, RuleSCR, RuleShort,
	RuleWMV, RuleHuge, RuleSize,
}

// Rule is one stateless quality predicate over a release and its files.
type Rule interface {
	Name() string
	Description() string
	Match(r *catalog.Release) bool
}

// subject is the name the rules inspect: the cleaned search name when
// present, the raw name otherwise.
func subject(r *catalog.Release) string {
	if r.SearchName != "" {
		return r.SearchName
	}
	return r.Name
}

func anyFile(r *catalog.Release, pred func(string) bool) bool {
	return slices.ContainsFunc(r.Files, pred)
}

// funcRule adapts a plain predicate to Rule.
type funcRule struct {
	name, desc string
	match      func(r *catalog.Release) bool
}

func (f funcRule) Name() string                  { return f.name }
func (f funcRule) Description() string           { return f.desc }
func (f funcRule) Match(r *catalog.Release) bool { return f.match(r) }

var (
	gibberishPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15,}$`)
	hashedPattern    = regexp.MustCompile(`^[a-zA-Z0-9]{25,}$`)
	shortPattern     = regexp.MustCompile(`^[a-zA-Z0-9]{0,5}$`)
	exePattern       = regexp.MustCompile(`(?i)\.exe(\W|$)`)
	scrPattern       = regexp.MustCompile(`(?i)\.scr(\W|$)`)
	wmvPattern       = regexp.MustCompile(`(?i)\.wmv(\W|$)`)
)

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

// BlacklistPattern is a compiled blacklist entry.
type BlacklistPattern struct {
	Re     *regexp.Regexp
	Column int
}

type blacklistRule struct {
	patterns []BlacklistPattern
}

func (blacklistRule) Name() string { return RuleBlacklist }
func (blacklistRule) Description() string {
	return "Remove releases whose subject or poster matches an active blacklist."
}

func (b blacklistRule) Match(r *catalog.Release) bool {
	for _, p := range b.patterns {
		switch p.Column {
		case catalog.ColumnPoster:
			if p.Re.MatchString(r.FromName) {
				return true
			}
		case catalog.ColumnSubject:
			if p.Re.MatchString(r.Name) || (r.SearchName != "" && p.Re.MatchString(r.SearchName)) {
				return true
			}
		}
	}
	return false
}

// Options parameterizes the rules that depend on configuration.
type Options struct {
	// Blacklist holds compiled blacklist patterns.
	Blacklist []BlacklistPattern
	// X264Categories are the category ids the wmv rule applies to.
	X264Categories []int
	// SizeExemptRoots are root category ids the size rule skips.
	SizeExemptRoots []int
}

// NewRules returns every rule in evaluation order.
func NewRules(opts Options) []Rule {
	x264 := slices.Clone(opts.X264Categories)
	exempt := slices.Clone(opts.SizeExemptRoots)

	return []Rule{
		blacklistRule{patterns: opts.Blacklist},
		funcRule{RuleExecutable, "Remove releases with an .exe file.", func(r *catalog.Release) bool {
			return anyFile(r, exePattern.MatchString)
		}},
		funcRule{RuleGibberish, "Remove releases whose name is letters/numbers only and 15 characters or longer.", func(r *catalog.Release) bool {
			return gibberishPattern.MatchString(subject(r))
		}},
		funcRule{RuleHashed, "Remove releases whose name is letters/numbers only and 25 characters or longer.", func(r *catalog.Release) bool {
			return hashedPattern.MatchString(subject(r))
		}},
		funcRule{RuleInstallBin, "Remove releases containing an install.bin file.", func(r *catalog.Release) bool {
			return anyFile(r, func(f string) bool { return containsFold(f, "install.bin") })
		}},
		funcRule{RulePassworded, "Remove releases with \"password\" in the name.", func(r *catalog.Release) bool {
			return containsFold(subject(r), "password")
		}},
		funcRule{RulePasswordURL, "Remove releases containing a password.url file.", func(r *catalog.Release) bool {
			return anyFile(r, func(f string) bool { return containsFold(f, "password.url") })
		}},
		funcRule{RuleSample, "Remove releases smaller than 40MB with more than 1 file and \"sample\" in the name.", func(r *catalog.Release) bool {
			return r.Size < 40*MB && r.FileCount > 1 && containsFold(subject(r), "sample")
		}},
		funcRule{RuleSCR, "Remove releases where .scr extension is found in the files or subject.", func(r *catalog.Release) bool {
			return scrPattern.MatchString(r.Name) || anyFile(r, scrPattern.MatchString)
		}},
		funcRule{RuleShort, "Remove releases whose name is letters/numbers only and 5 characters or less.", func(r *catalog.Release) bool {
			return shortPattern.MatchString(subject(r))
		}},
		funcRule{RuleWMV, "Remove releases in an x264 category containing a .wmv file.", func(r *catalog.Release) bool {
			return slices.Contains(x264, r.CategoryID) && anyFile(r, wmvPattern.MatchString)
		}},
		funcRule{RuleHuge, "Remove releases bigger than 200MB with just a single file.", func(r *catalog.Release) bool {
			return r.Size > 200*MB && r.FileCount == 1
		}},
		funcRule{RuleSize, "Remove releases smaller than 2MB with 1 file, outside the exempt categories.", func(r *catalog.Release) bool {
			root := r.CategoryID / 1000 * 1000
			return r.Size < 2*MB && r.FileCount == 1 && !slices.Contains(exempt, root)
		}},
	}
}

// Select returns the rules named in names, keeping evaluation order.
// Empty names selects every rule. Unknown names are returned separately.
func Select(rules []Rule, names []string) (selected []Rule, unknown []string) {
	if len(names) == 0 {
		return rules, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if !slices.Contains(RuleNames, n) {
			unknown = append(unknown, n)
			continue
		}
		want[n] = true
	}
	for _, r := range rules {
		if want[r.Name()] {
			selected = append(selected, r)
		}
	}
	return selected, unknown
}

// FirstMatch returns the name of the first rule matching r, or "".
func FirstMatch(rules []Rule, r *catalog.Release) string {
	for _, rule := range rules {
		if rule.Match(r) {
			return rule.Name()
		}
	}
	return ""
}
