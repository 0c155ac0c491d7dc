package gateway

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	scoreMissingUserAgent = 20
	scoreShortUserAgent   = 10
	scoreSQLKeyword       = 30
	scoreXSSPattern       = 25
	scorePathTraversal    = 20
	scoreExcessiveParams  = 15
	scoreOversizedBody    = 10

	maxQueryParams   = 50
	maxBodyBytes     = 10 << 20
	shortUserAgent   = 10
	suspicionRefusal = 50
)

var sqlKeywords = []string{
	"union", "select", "drop", "delete", "insert", "update", "alter", "create",
}

var xssPatterns = []string{
	"<script>", "<iframe>", "javascript:", "onload=", "onerror=",
}

var traversalPatterns = []string{
	"../", "..\\", "%2e%2e%2f", "%2e%2e%5c",
}

// scoreRequest computes the heuristic risk score and the matched indicators.
// Each parameter contributes at most once per category.
func scoreRequest(req *Request) (int, []string) {
	score := 0
	var indicators []string

	ua := strings.TrimSpace(req.UserAgent)
	if ua == "" {
		score += scoreMissingUserAgent
		indicators = append(indicators, "missing user-agent")
	} else if len(ua) < shortUserAgent {
		score += scoreShortUserAgent
		indicators = append(indicators, "short user-agent")
	}

	scan := func(values url.Values, origin string) {
		for name, vals := range values {
			sqlHit, xssHit, travHit := false, false, false
			for _, v := range vals {
				lower := strings.ToLower(v)
				if !sqlHit && containsSQLKeyword(lower) {
					sqlHit = true
				}
				if !xssHit && containsAny(lower, xssPatterns) {
					xssHit = true
				}
				if !travHit && containsAny(lower, traversalPatterns) {
					travHit = true
				}
			}
			if sqlHit {
				score += scoreSQLKeyword
				indicators = append(indicators, fmt.Sprintf("possible sql injection in %s %s", origin, name))
			}
			if xssHit {
				score += scoreXSSPattern
				indicators = append(indicators, fmt.Sprintf("possible xss in %s %s", origin, name))
			}
			if travHit {
				score += scorePathTraversal
				indicators = append(indicators, fmt.Sprintf("path traversal in %s %s", origin, name))
			}
		}
	}
	scan(req.Query, "query")
	scan(req.Form, "form")

	if len(req.Query) > maxQueryParams {
		score += scoreExcessiveParams
		indicators = append(indicators, "excessive query parameters")
	}
	if req.BodySize > maxBodyBytes {
		score += scoreOversizedBody
		indicators = append(indicators, "oversized request body")
	}
	return score, indicators
}

func containsSQLKeyword(lower string) bool {
	for _, kw := range sqlKeywords {
		idx := strings.Index(lower, kw)
		for idx >= 0 {
			// Keyword must stand on its own word boundary so that e.g.
			// "newsletter" does not trip on "delete".
			before := idx == 0 || !isWordByte(lower[idx-1])
			end := idx + len(kw)
			after := end == len(lower) || !isWordByte(lower[end])
			if before && after {
				return true
			}
			next := strings.Index(lower[idx+1:], kw)
			if next < 0 {
				break
			}
			idx = idx + 1 + next
		}
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
