package search

import "strings"

// domainSynonyms maps canonical terms to their common variants. Keys and
// values are lowercase; lookup is symmetric through the reverse index built
// at init.
var domainSynonyms = map[string][]string{
	"ap":          {"access point", "wireless ap", "wap"},
	"vpn":         {"virtual private network", "tunnel"},
	"switch":      {"network switch", "l2 switch"},
	"router":      {"gateway", "l3 device"},
	"firewall":    {"fw", "security appliance"},
	"server":      {"host", "machine"},
	"vm":          {"virtual machine", "instance"},
	"dns":         {"domain name system", "name resolution"},
	"dhcp":        {"address assignment", "ip assignment"},
	"vlan":        {"virtual lan", "network segment"},
	"ticket":      {"incident", "case", "request"},
	"outage":      {"downtime", "service disruption"},
	"employee":    {"staff member", "team member", "person"},
	"department":  {"team", "unit", "division"},
	"certificate": {"cert", "tls certificate", "ssl certificate"},
	"password":    {"credential", "passphrase"},
	"datacenter":  {"data center", "dc", "server room"},
}

var synonymIndex map[string][]string

func init() {
	synonymIndex = make(map[string][]string, len(domainSynonyms)*3)
	for canonical, variants := range domainSynonyms {
		synonymIndex[canonical] = append(synonymIndex[canonical], variants...)
		for _, v := range variants {
			others := []string{canonical}
			for _, o := range variants {
				if o != v {
					others = append(others, o)
				}
			}
			synonymIndex[v] = append(synonymIndex[v], others...)
		}
	}
}

// ExpandSynonyms returns the synonym map for the keywords that have known
// variants. Keywords without synonyms are omitted.
func ExpandSynonyms(keywords []string) map[string][]string {
	out := make(map[string][]string)
	for _, kw := range keywords {
		key := strings.ToLower(strings.TrimSpace(kw))
		if variants, ok := synonymIndex[key]; ok {
			out[key] = variants
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SynonymVariant rewrites the query replacing the first keyword that has a
// synonym with its primary variant. Returns "" when nothing can be rewritten.
func SynonymVariant(query string, synonyms map[string][]string) string {
	lower := strings.ToLower(query)
	for term, variants := range synonyms {
		if len(variants) == 0 {
			continue
		}
		idx := indexWord(lower, term)
		if idx < 0 {
			continue
		}
		return query[:idx] + variants[0] + query[idx+len(term):]
	}
	return ""
}

// indexWord finds term in s at a word boundary.
func indexWord(s, term string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], term)
		if idx < 0 {
			return -1
		}
		idx += from
		startOK := idx == 0 || !isWordChar(s[idx-1])
		end := idx + len(term)
		endOK := end == len(s) || !isWordChar(s[end])
		if startOK && endOK {
			return idx
		}
		from = idx + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
