package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	glob "github.com/ryanuber/go-glob"
)

const (
	labelsPathPrefix = "labels."
	negationPrefix   = "!"
)

var knownPaths = map[string]struct{}{
	"id":              {},
	"name":            {},
	"image.name":      {},
	"image.tag":       {},
	"compose.project": {},
	"compose.service": {},
}

// Filter maps dotted container attribute paths (compose.service,
// labels.<key>, ...) to wildcard patterns. Every path must match; a nil
// Filter matches every container.
type Filter map[string][]string

// ParseFilter reads "path=pattern" expressions. Repeating a path adds
// patterns to it.
func ParseFilter(exprs []string) (Filter, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	f := Filter{}
	for _, expr := range exprs {
		path, pattern, ok := strings.Cut(expr, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, NewInvalidFilterError(expr, "expected path=pattern")
		}
		f[path] = append(f[path], pattern)
	}
	return f, f.Validate()
}

// FilterFromTree flattens a nested filter such as
// {"compose": {"service": "web*"}} into dotted paths. Leaves are a pattern
// or a list of patterns.
func FilterFromTree(tree map[string]any) (Filter, error) {
	f := Filter{}
	if err := flattenTree(f, "", tree); err != nil {
		return nil, err
	}
	return f, f.Validate()
}

func flattenTree(f Filter, prefix string, node any) error {
	switch v := node.(type) {
	case string:
		f[prefix] = append(f[prefix], v)
	case []string:
		f[prefix] = append(f[prefix], v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return NewInvalidFilterError(prefix, fmt.Sprintf("pattern must be a string, got %T", item))
			}
			f[prefix] = append(f[prefix], s)
		}
	case map[string]string:
		for k, s := range v {
			f[join(prefix, k)] = append(f[join(prefix, k)], s)
		}
	case map[string]any:
		for k, child := range v {
			if err := flattenTree(f, join(prefix, k), child); err != nil {
				return err
			}
		}
	default:
		return NewInvalidFilterError(prefix, fmt.Sprintf("unsupported value of type %T", node))
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Validate rejects unknown attribute paths and empty pattern lists.
func (f Filter) Validate() error {
	for path, patterns := range f {
		lower := strings.ToLower(path)
		if _, ok := knownPaths[lower]; !ok {
			if !strings.HasPrefix(lower, labelsPathPrefix) || len(lower) == len(labelsPathPrefix) {
				return NewInvalidFilterError(path, "unknown container attribute")
			}
		}
		if len(patterns) == 0 {
			return NewInvalidFilterError(path, "no pattern given")
		}
	}
	return nil
}

// Matches reports whether flattened container attributes satisfy every
// path of the filter. Paths ignore case. Missing attributes match as the
// empty string.
func (f Filter) Matches(attrs map[string]string) bool {
	for path, patterns := range f {
		if !matchPatterns(attrs[strings.ToLower(path)], patterns) {
			return false
		}
	}
	return true
}

func (f Filter) String() string {
	paths := make([]string, 0, len(f))
	for path := range f {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		parts = append(parts, path+"="+strings.Join(f[path], ","))
	}
	return strings.Join(parts, " ")
}

// matchPatterns applies patterns in order; the last one matching the value
// decides. With only negated patterns, a value none of them match passes.
// Comparison ignores case.
func matchPatterns(value string, patterns []string) bool {
	value = strings.ToLower(value)

	matched := true
	for _, p := range patterns {
		if !strings.HasPrefix(p, negationPrefix) {
			matched = false
			break
		}
	}
	for _, p := range patterns {
		negated := strings.HasPrefix(p, negationPrefix)
		p = strings.ToLower(strings.TrimPrefix(p, negationPrefix))
		if glob.Glob(p, value) {
			matched = !negated
		}
	}
	return matched
}

// flattenIdentity lays a container out under the paths filters address.
func flattenIdentity(c domain.ContainerIdentity) map[string]string {
	attrs := map[string]string{
		"id":         c.ID,
		"name":       c.Name,
		"image.name": c.Image.Name,
		"image.tag":  c.Image.Tag,
	}
	if c.Compose != nil {
		attrs["compose.project"] = c.Compose.Project
		attrs["compose.service"] = c.Compose.Service
	}
	for k, v := range c.Labels {
		attrs[labelsPathPrefix+strings.ToLower(k)] = v
	}
	return attrs
}
