// Package filter applies include/exclude/search patterns to cached file
// rows, used when the CLI selects which remote files to enqueue as jobs
// (spec §3: cache rows feed job creation).
package filter

import (
	"path/filepath"
	"strings"

	"github.com/sharkoder/sharkoder/internal/models"
)

// Config holds filter configuration.
type Config struct {
	// Include patterns (glob-style, matched against the file name). Empty
	// means include all.
	Include []string

	// Exclude patterns (glob-style). Takes precedence over Include.
	Exclude []string

	// Search terms (case-insensitive substring match against the name).
	// A file must match ALL terms to be included.
	Search []string

	// PathInclude patterns match against the file's full relative path.
	// Supports ** for multi-directory matching, e.g. "**/season_1/*.mkv".
	PathInclude []string
}

// Apply filters a slice of cached file rows against config.
func Apply(rows []models.FileRow, config Config) []models.FileRow {
	if len(config.Include) == 0 && len(config.Exclude) == 0 && len(config.Search) == 0 && len(config.PathInclude) == 0 {
		return rows
	}

	filtered := make([]models.FileRow, 0, len(rows))
	for _, row := range rows {
		if len(config.PathInclude) > 0 && !matchesPathFilter(row.Path, config.PathInclude) {
			continue
		}
		if matchesFilter(row.Name, config) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func matchesFilter(filename string, config Config) bool {
	for _, pattern := range config.Exclude {
		if matched, _ := filepath.Match(pattern, filename); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(filename)); matched {
			return false
		}
	}

	if len(config.Include) > 0 {
		included := false
		for _, pattern := range config.Include {
			if matched, _ := filepath.Match(pattern, filename); matched {
				included = true
				break
			}
			if matched, _ := filepath.Match(pattern, filepath.Base(filename)); matched {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	if len(config.Search) > 0 {
		lowerFilename := strings.ToLower(filename)
		for _, term := range config.Search {
			if !strings.Contains(lowerFilename, strings.ToLower(term)) {
				return false
			}
		}
	}

	return true
}

func matchesPathFilter(path string, patterns []string) bool {
	path = filepath.ToSlash(path)
	for _, pattern := range patterns {
		if matchPathPattern(path, filepath.ToSlash(pattern)) {
			return true
		}
	}
	return false
}

func matchPathPattern(path, pattern string) bool {
	if strings.Contains(pattern, "**") {
		return matchDoubleStarPattern(path, pattern)
	}
	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}

// matchDoubleStarPattern handles ** glob patterns for multi-directory
// matching, e.g. "**/results.dat" or "run_1/**".
func matchDoubleStarPattern(path, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchPathPattern(path, suffix) {
			return true
		}
		parts := strings.Split(path, "/")
		for i := range parts {
			if matchPathPattern(strings.Join(parts[i:], "/"), suffix) {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
		parts := strings.Split(path, "/")
		for i := 1; i <= len(parts); i++ {
			if matched, _ := filepath.Match(prefix, strings.Join(parts[:i], "/")); matched {
				return true
			}
		}
		return false
	}

	if idx := strings.Index(pattern, "/**/"); idx != -1 {
		prefix := pattern[:idx]
		suffix := pattern[idx+4:]
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			prefixPath := strings.Join(parts[:i], "/")
			if matched, _ := filepath.Match(prefix, prefixPath); matched {
				for j := i; j <= len(parts); j++ {
					if matchPathPattern(strings.Join(parts[j:], "/"), suffix) {
						return true
					}
				}
			}
		}
		return false
	}

	if pattern == "**" {
		return true
	}

	replaced := strings.ReplaceAll(pattern, "**", "*")
	matched, _ := filepath.Match(replaced, path)
	return matched
}

// ParsePatternList parses a comma-separated list of patterns into a slice.
func ParsePatternList(patternStr string) []string {
	if patternStr == "" {
		return nil
	}
	parts := strings.Split(patternStr, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}
