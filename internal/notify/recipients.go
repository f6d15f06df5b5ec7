package notify

import "strings"

// Recipients flattens entries that may each hold a comma separated list
// into trimmed addresses. Duplicates are dropped case-insensitively and
// the first spelling wins.
func Recipients(entries ...string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, entry := range entries {
		for _, addr := range strings.Split(entry, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			key := strings.ToLower(addr)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// without drops every address already present in exclude.
func without(addrs []string, exclude ...[]string) []string {
	skip := make(map[string]struct{})
	for _, list := range exclude {
		for _, a := range list {
			skip[strings.ToLower(a)] = struct{}{}
		}
	}
	out := addrs[:0:0]
	for _, a := range addrs {
		if _, ok := skip[strings.ToLower(a)]; !ok {
			out = append(out, a)
		}
	}
	return out
}
