package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":   {},
	"gclid":    {},
	"dclid":    {},
	"msclkid":  {},
	"mc_cid":   {},
	"mc_eid":   {},
	"cmpid":    {},
	"ocid":     {},
	"ref":      {},
	"ref_src":  {},
	"taid":     {},
	"sr_share": {},
	"cmp":      {},
	"ito":      {},
}

var trackingPrefixes = []string{"utm_", "at_", "__twitter"}

// NormalizeURL reduces a URL to its canonical identity: https scheme,
// lowercase host without "www.", no fragment, no tracking parameters, sorted
// query and no trailing slash. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" || scheme == "" {
		scheme = "https"
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	switch port := u.Port(); {
	case port != "" && port != "80" && port != "443":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for name := range q {
		if isTrackingParam(name) {
			q.Del(name)
		}
	}
	u.RawQuery = encodeSorted(q)

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// Key is the cache identity of a URL: hex sha256 of its normalized form.
func Key(raw string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(raw)))
	return hex.EncodeToString(sum[:])
}

func isTrackingParam(name string) bool {
	name = strings.ToLower(name)
	if _, ok := trackingParams[name]; ok {
		return true
	}
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
