package quality

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/relindex/internal/catalog"
	relerrors "github.com/Aman-CERP/relindex/internal/errors"
)

func ruleByName(t *testing.T, name string, opts Options) Rule {
	t.Helper()
	for _, r := range NewRules(opts) {
		if r.Name() == name {
			return r
		}
	}
	t.Fatalf("rule %s not registered", name)
	return nil
}

func defaultOpts() Options {
	return Options{X264Categories: []int{2040}, SizeExemptRoots: []int{3000, 7000}}
}

func TestNewRules_RegisteredInEnumerationOrder(t *testing.T) {
	rules := NewRules(defaultOpts())

	got := make([]string, len(rules))
	for i, r := range rules {
		got[i] = r.Name()
		assert.NotEmpty(t, r.Description())
	}
	assert.Equal(t, RuleNames, got)
}

func TestNameRules_Boundaries(t *testing.T) {
	tests := []struct {
		rule string
		name string
		want bool
	}{
		{RuleGibberish, strings.Repeat("a", 14), false},
		{RuleGibberish, strings.Repeat("a", 15), true},
		{RuleGibberish, strings.Repeat("a", 16), true},
		{RuleGibberish, "abcdefgh.ijklmnop", false},
		{RuleHashed, strings.Repeat("f0", 12), false},
		{RuleHashed, strings.Repeat("f0", 12) + "f", true},
		{RuleShort, "abcde", true},
		{RuleShort, "abcdef", false},
		{RuleShort, "a b", false},
		{RulePassworded, "Movie.PassWorded.rar", true},
		{RulePassworded, "Movie.2024", false},
	}

	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.name, func(t *testing.T) {
			r := &catalog.Release{SearchName: tt.name}
			assert.Equal(t, tt.want, ruleByName(t, tt.rule, defaultOpts()).Match(r))
		})
	}
}

func TestSubject_FallsBackToName(t *testing.T) {
	r := &catalog.Release{Name: strings.Repeat("x", 16)}

	assert.True(t, ruleByName(t, RuleGibberish, defaultOpts()).Match(r))

	r.SearchName = "Clean Name"
	assert.False(t, ruleByName(t, RuleGibberish, defaultOpts()).Match(r))
}

func TestFileRules(t *testing.T) {
	tests := []struct {
		rule  string
		files []string
		want  bool
	}{
		{RuleExecutable, []string{"setup.EXE"}, true},
		{RuleExecutable, []string{"movie.exe.nfo"}, true},
		{RuleExecutable, []string{"readme.exercise"}, false},
		{RuleInstallBin, []string{"Install.bin"}, true},
		{RuleInstallBin, []string{"installer.bin"}, false},
		{RulePasswordURL, []string{"Password.URL"}, true},
		{RuleSCR, []string{"photo.scr"}, true},
		{RuleSCR, []string{"description.script"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.rule+"/"+strings.Join(tt.files, ","), func(t *testing.T) {
			r := &catalog.Release{Name: "Normal Name", Files: tt.files}
			assert.Equal(t, tt.want, ruleByName(t, tt.rule, defaultOpts()).Match(r))
		})
	}
}

func TestSCR_MatchesSubject(t *testing.T) {
	r := &catalog.Release{Name: `"screensaver.scr" yEnc (1/1)`}

	assert.True(t, ruleByName(t, RuleSCR, defaultOpts()).Match(r))
}

func TestWMV_RequiresX264Category(t *testing.T) {
	rule := ruleByName(t, RuleWMV, defaultOpts())

	assert.True(t, rule.Match(&catalog.Release{CategoryID: 2040, Files: []string{"clip.wmv"}}))
	assert.False(t, rule.Match(&catalog.Release{CategoryID: 2030, Files: []string{"clip.wmv"}}))
	assert.False(t, rule.Match(&catalog.Release{CategoryID: 2040, Files: []string{"clip.mkv"}}))
}

func TestSizeRules(t *testing.T) {
	tests := []struct {
		rule      string
		size      int64
		fileCount int
		category  int
		name      string
		want      bool
	}{
		{RuleSample, 40*MB - 1, 2, 2040, "Movie Sample", true},
		{RuleSample, 40 * MB, 2, 2040, "Movie Sample", false},
		{RuleSample, 10 * MB, 1, 2040, "Movie Sample", false},
		{RuleSample, 10 * MB, 2, 2040, "Movie", false},
		{RuleHuge, 200*MB + 1, 1, 2040, "x", true},
		{RuleHuge, 200 * MB, 1, 2040, "x", false},
		{RuleHuge, 500 * MB, 2, 2040, "x", false},
		{RuleSize, 2*MB - 1, 1, 2040, "x", true},
		{RuleSize, 2 * MB, 1, 2040, "x", false},
		{RuleSize, 1 * MB, 2, 2040, "x", false},
		{RuleSize, 1 * MB, 1, 3010, "x", false},
		{RuleSize, 1 * MB, 1, 7020, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			r := &catalog.Release{SearchName: tt.name, Size: tt.size, FileCount: tt.fileCount, CategoryID: tt.category}
			assert.Equal(t, tt.want, ruleByName(t, tt.rule, defaultOpts()).Match(r))
		})
	}
}

func TestBlacklistRule_Columns(t *testing.T) {
	opts := defaultOpts()
	opts.Blacklist = []BlacklistPattern{
		{Re: regexp.MustCompile(`(?i)virus`), Column: catalog.ColumnSubject},
		{Re: regexp.MustCompile(`^spammer@`), Column: catalog.ColumnPoster},
	}
	rule := ruleByName(t, RuleBlacklist, opts)

	assert.True(t, rule.Match(&catalog.Release{Name: "Free VIRUS inside"}))
	assert.True(t, rule.Match(&catalog.Release{Name: "ok", FromName: "spammer@example.com"}))
	assert.False(t, rule.Match(&catalog.Release{Name: "ok", FromName: "someone@example.com"}))
}

func TestSelect(t *testing.T) {
	rules := NewRules(defaultOpts())

	all, unknown := Select(rules, nil)
	assert.Len(t, all, len(RuleNames))
	assert.Empty(t, unknown)

	// Selection keeps evaluation order, not argument order
	some, unknown := Select(rules, []string{"size", "Gibberish", "bogus"})
	assert.Equal(t, []string{"bogus"}, unknown)
	assert.Equal(t, RuleGibberish, some[0].Name())
	assert.Equal(t, RuleSize, some[1].Name())
}

func TestFirstMatch_OrderWins(t *testing.T) {
	rules := NewRules(defaultOpts())
	// gibberish and hashed and huge all match; gibberish comes first
	r := &catalog.Release{SearchName: strings.Repeat("z", 30), Size: 300 * MB, FileCount: 1}

	assert.Equal(t, RuleGibberish, FirstMatch(rules, r))

	hashedOnly, _ := Select(rules, []string{"hashed", "huge"})
	assert.Equal(t, RuleHashed, FirstMatch(hashedOnly, r))

	assert.Equal(t, "", FirstMatch(nil, r))
}

func TestPatternCache(t *testing.T) {
	c := NewPatternCache(2)

	a, err := c.Compile(`a+`)
	assert.NoError(t, err)
	again, err := c.Compile(`a+`)
	assert.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, 1, c.Len())

	_, err = c.Compile(`(`)
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestParseAgeWindow(t *testing.T) {
	w, err := ParseAgeWindow("full")
	assert.NoError(t, err)
	assert.True(t, w.IsUnbounded())
	assert.Equal(t, "full", w.String())

	w, err = ParseAgeWindow("12")
	assert.NoError(t, err)
	assert.Equal(t, 12, w.Hours)
	assert.Equal(t, "12", w.String())

	for _, bad := range []string{"0", "-3", "abc", ""} {
		_, err := ParseAgeWindow(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAgeWindow_LargestWindow(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	// Given: the largest window that fits in a duration
	w, err := ParseAgeWindow(strconv.FormatInt(MaxWindowHours, 10))
	require.NoError(t, err)

	// Then: its start lies in the past
	assert.True(t, w.Since(now).Before(now))

	// And: one hour more is rejected instead of wrapping into the future
	_, err = ParseAgeWindow(strconv.FormatInt(MaxWindowHours+1, 10))
	require.Error(t, err)
	assert.Equal(t, relerrors.ErrCodeInvalidAgeWindow, relerrors.GetCode(err))

	// And: a window far past the limit stays in the past
	for _, hours := range []string{"3000000", "9223372036854775807"} {
		_, err := ParseAgeWindow(hours)
		assert.Error(t, err, hours)
	}
	assert.True(t, AgeWindow{Hours: math.MaxInt}.Since(now).Before(now))
}
