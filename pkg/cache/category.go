package cache

import (
	"strings"
	"time"
)

// Category classifies an endpoint for TTL selection.
type Category string

const (
	CategoryRepos         Category = "repos"
	CategoryPulls         Category = "pulls"
	CategoryIssues        Category = "issues"
	CategoryCommits       Category = "commits"
	CategoryUsers         Category = "users"
	CategoryRateLimit     Category = "rate_limit"
	CategoryCollaborators Category = "collaborators"
	CategoryRefs          Category = "refs"
	CategoryCompare       Category = "compare"
	CategorySearch        Category = "search"
	CategoryDefault       Category = "default"
)

// categoryRule matches a URL when all of its substrings are present.
type categoryRule struct {
	substrings []string
	category   Category
}

// categoryRules is evaluated in order; the first match wins. Repo
// sub-resources are listed before the generic repos rule so that e.g.
// /repos/o/r/pulls classifies as pulls, not repos.
var categoryRules = []categoryRule{
	{[]string{"/repos/", "/pulls"}, CategoryPulls},
	{[]string{"/repos/", "/issues"}, CategoryIssues},
	{[]string{"/repos/", "/commits"}, CategoryCommits},
	{[]string{"/repos/", "/collaborators"}, CategoryCollaborators},
	{[]string{"/repos/", "/compare"}, CategoryCompare},
	{[]string{"/repos/", "/git/refs"}, CategoryRefs},
	{[]string{"/repos/"}, CategoryRepos},
	{[]string{"/users/"}, CategoryUsers},
	{[]string{"/rate_limit"}, CategoryRateLimit},
	{[]string{"/search/"}, CategorySearch},
}

// Categorize determines the cache category for a URL. It is a pure function
// with no hidden state; unknown shapes fall back to CategoryDefault.
func Categorize(rawURL string) Category {
	lower := strings.ToLower(rawURL)

	for _, rule := range categoryRules {
		matched := true
		for _, sub := range rule.substrings {
			if !strings.Contains(lower, sub) {
				matched = false
				break
			}
		}
		if matched {
			return rule.category
		}
	}

	return CategoryDefault
}

// DefaultTTLs returns the default per-category TTL table. Repo metadata and
// user profiles change rarely and cache long; pull requests and search
// results churn and cache short.
func DefaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryRepos:         1 * time.Hour,
		CategoryPulls:         5 * time.Minute,
		CategoryIssues:        10 * time.Minute,
		CategoryCommits:       30 * time.Minute,
		CategoryUsers:         2 * time.Hour,
		CategoryRateLimit:     1 * time.Minute,
		CategoryCollaborators: 1 * time.Hour,
		CategoryRefs:          30 * time.Minute,
		CategoryCompare:       15 * time.Minute,
		CategorySearch:        5 * time.Minute,
		CategoryDefault:       10 * time.Minute,
	}
}
