package nft

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// handleRe matches a rule line of `nft -a list` output.
var handleRe = regexp.MustCompile(`^(.*?)\s*# handle ([0-9]+)$`)

// ParseChainListing extracts the rules of an `nft -a list chain` dump.
// Table, chain and property lines are skipped; only lines ending in a
// `# handle N` comment that are not block openers are rules.
func ParseChainListing(text string) []ListedRule {
	var rules []ListedRule
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := handleRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		body := strings.TrimSpace(m[1])
		if body == "" || strings.HasSuffix(body, "{") {
			continue
		}
		handle, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		rules = append(rules, ListedRule{Text: body, Handle: handle})
	}
	return rules
}

// MatchRule reports whether rule text contains the `<proto> dport <port>`
// token sequence and the ref token (a set reference or a CIDR). Tokens are
// compared whole, so port 44 does not match "dport 443". A /32 host prefix
// is ignored on both sides since nft lists "1.2.3.4/32" as "1.2.3.4".
func MatchRule(text string, port int, proto, ref string) bool {
	fields := strings.Fields(text)
	want := []string{proto, "dport", strconv.Itoa(port)}

	portMatch := false
	for i := 0; i+len(want) <= len(fields); i++ {
		if fields[i] == want[0] && fields[i+1] == want[1] && fields[i+2] == want[2] {
			portMatch = true
			break
		}
	}
	if !portMatch {
		return false
	}
	ref = strings.TrimSuffix(ref, "/32")
	for _, f := range fields {
		if strings.TrimSuffix(f, "/32") == ref {
			return true
		}
	}
	return false
}

// CountElements counts the comma-separated entries inside the
// `elements = { ... }` block of an `nft list set` dump. A missing block
// counts as zero.
func CountElements(text string) int {
	start := strings.Index(text, "elements = {")
	if start == -1 {
		return 0
	}
	start += len("elements = {")
	end := strings.Index(text[start:], "}")
	if end == -1 {
		return 0
	}

	count := 0
	for _, elem := range strings.Split(text[start:start+end], ",") {
		if strings.TrimSpace(elem) != "" {
			count++
		}
	}
	return count
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
