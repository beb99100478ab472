package providers

import "strings"

const fallbackName = "User"

// displayName returns the first non-empty candidate, then the local part of email, then
// "User".
func displayName(email string, candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	if local := emailLocalPart(email); local != "" {
		return local
	}
	return fallbackName
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return strings.TrimSpace(local)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// hostURL accepts a bare host ("auth.example.com") or a full origin and returns an origin
// without a trailing slash.
func hostURL(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}
