package runner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Norgate-AV/testcache/internal/cache"
)

var (
	countPattern = regexp.MustCompile(`(\d+)\s+(passed|failed|skipped|pending|todo|xfailed|xpassed|errors?)\b`)

	goResultPattern = regexp.MustCompile(`^--- (PASS|FAIL|SKIP): (\S+)`)
	pytestFailed    = regexp.MustCompile(`^(?:FAILED|ERROR) (\S+)(?: - (.*))?$`)
	jestFailed      = regexp.MustCompile(`^\s*● (.+)$`)
)

// Lines that carry counts for something other than individual tests
var ignoredSummaryPrefixes = []string{"Test Suites:", "Snapshots:", "Test Files"}

// ParseSummary extracts pass/fail/skip counts and failing test names from test
// runner output. It understands go test -v, jest, vitest and pytest output.
// Counts are zero when nothing recognizable is found.
func ParseSummary(output string) cache.Result {
	var (
		result   cache.Result
		goSeen   bool
		goResult cache.Result
		seen     = make(map[string]bool)
	)

	addFailure := func(name, msg string) {
		if name == "" || seen[name] {
			return
		}

		seen[name] = true
		result.Failures = append(result.Failures, cache.Failure{Name: name, Message: msg})
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := goResultPattern.FindStringSubmatch(line); m != nil {
			goSeen = true
			switch m[1] {
			case "PASS":
				goResult.Passed++
			case "FAIL":
				goResult.Failed++
				addFailure(m[2], "")
			case "SKIP":
				goResult.Skipped++
			}

			continue
		}

		if m := pytestFailed.FindStringSubmatch(line); m != nil {
			addFailure(m[1], m[2])
			continue
		}

		if m := jestFailed.FindStringSubmatch(line); m != nil {
			if !strings.HasPrefix(m[1], "Console") {
				addFailure(strings.TrimSpace(m[1]), "")
			}

			continue
		}

		if counts, ok := parseCounts(line); ok {
			result.Passed, result.Failed, result.Skipped = counts.Passed, counts.Failed, counts.Skipped
		}
	}

	if goSeen {
		result.Passed, result.Failed, result.Skipped = goResult.Passed, goResult.Failed, goResult.Skipped
	}

	return result
}

// parseCounts reads a summary line such as "Tests: 1 failed, 4 passed, 5 total"
func parseCounts(line string) (cache.Result, bool) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range ignoredSummaryPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return cache.Result{}, false
		}
	}

	matches := countPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return cache.Result{}, false
	}

	var r cache.Result
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		switch m[2] {
		case "passed", "xpassed":
			r.Passed += n
		case "failed", "error", "errors":
			r.Failed += n
		case "skipped", "pending", "todo", "xfailed":
			r.Skipped += n
		}
	}

	return r, true
}
