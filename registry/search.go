package registry

import (
	"regexp"
	"sort"
	"strings"

	"github.com/distroreg/registry/catalog"
)

// infoSep separates the group and name halves of a full service name
// ("group@@name") and of a GetPagedService param filter built the same way.
const infoSep = "@@"

// SearchServices returns every service in namespaceID whose full name
// (group@@name) fully matches pattern as a regular expression, per
// spec.md §4.1. Matching is full-match, mirroring java.util.regex's
// Matcher.matches() semantics rather than Matcher.find()'s substring search.
func (r *Registry) SearchServices(namespaceID, pattern string) ([]*catalog.Service, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, catalog.NewError(catalog.InvalidArgument, "malformed search pattern", err.Error())
	}

	var out []*catalog.Service
	for _, name := range r.GetAllServiceNames(namespaceID) {
		if re.MatchString(name) {
			if svc, ok := r.GetService(namespaceID, name); ok {
				out = append(out, svc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetPagedService returns the slice of services visible at page startPage
// (0-indexed) of size pageSize, after filtering by param and containedInstance
// and optionally hasIpCount, plus the total count of services that survive
// filtering, per spec.md §4.1.
func (r *Registry) GetPagedService(namespaceID string, startPage, pageSize int, param, containedInstance string, hasIpCount bool) (page []*catalog.Service, total int, err error) {
	names := r.GetAllServiceNames(namespaceID)
	sort.Strings(names)

	matcher, err := paramMatcher(param)
	if err != nil {
		return nil, 0, err
	}

	var filtered []*catalog.Service
	for _, name := range names {
		svc, ok := r.GetService(namespaceID, name)
		if !ok {
			continue
		}
		if !matcher.MatchString(name) {
			continue
		}
		if containedInstance != "" && !serviceContainsInstance(svc, containedInstance) {
			continue
		}
		if hasIpCount && len(svc.AllIPs()) == 0 {
			continue
		}
		filtered = append(filtered, svc)
	}

	total = len(filtered)
	start := startPage * pageSize
	if start < 0 || start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

// paramMatcher expands param into the "*p1*[info-sep]*p2*" pattern described
// by spec.md §4.1: param is split on the group@@name separator, each half
// becomes a wildcarded substring match (an omitted half matches anything),
// and the two halves are rejoined with the literal separator.
func paramMatcher(param string) (*regexp.Regexp, error) {
	group, name := "", param
	if idx := strings.Index(param, infoSep); idx >= 0 {
		group, name = param[:idx], param[idx+len(infoSep):]
	}

	pattern := "^" + wildcardPart(group) + regexp.QuoteMeta(infoSep) + wildcardPart(name) + "$"
	return regexp.Compile(pattern)
}

func wildcardPart(part string) string {
	if part == "" {
		return ".*"
	}
	return ".*" + regexp.QuoteMeta(part) + ".*"
}

// serviceContainsInstance reports whether svc holds an instance matching
// needle: an "ip:port" exact match if needle contains a colon, otherwise an
// ip substring match.
func serviceContainsInstance(svc *catalog.Service, needle string) bool {
	for _, inst := range svc.AllIPs() {
		if strings.Contains(needle, ":") {
			if inst.IPAddr() == needle {
				return true
			}
		} else if strings.Contains(inst.IP, needle) {
			return true
		}
	}
	return false
}
