package codes

// Exit codes shared by the common test runners (pytest documents the full set;
// go test, jest and vitest use 0 and 1)
const (
	Success        = 0
	TestsFailed    = 1
	Interrupted    = 2
	InternalError  = 3
	UsageError     = 4
	NoTestsFound   = 5
	NotExecutable  = 126
	NotFound       = 127
	KilledBySignal = 130
)

// ErrorCodes maps test runner exit codes to their descriptions
var ErrorCodes = map[int]string{
	Success:        "Success",
	TestsFailed:    "Tests failed",
	Interrupted:    "Test run interrupted",
	InternalError:  "Internal error in the test runner",
	UsageError:     "Test runner usage error",
	NoTestsFound:   "No tests collected",
	NotExecutable:  "Test runner is not executable",
	NotFound:       "Test runner command not found",
	KilledBySignal: "Test run terminated by signal",
}

// IsSuccess returns true if the exit code means every collected test passed
func IsSuccess(code int) bool {
	return code == Success || code == NoTestsFound
}

// IsCacheable returns true if the run completed and produced a result worth
// caching, including runs with failing tests
func IsCacheable(code int) bool {
	return IsSuccess(code) || code == TestsFailed
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	return "Unknown error"
}
