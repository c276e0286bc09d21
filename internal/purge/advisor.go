package purge

import (
	"net/url"
	"sort"
	"strings"
)

// advisorThreshold is the per-domain URL count past which a cpcode
// purge becomes the cheaper shape.
const advisorThreshold = 100

// Suggestion is a non-binding consolidation hint. The queue is never
// modified on its behalf.
type Suggestion struct {
	Domain                 string `json:"domain"`
	URLCount               int    `json:"urlCount"`
	SuggestedKind          Kind   `json:"suggestedKind"`
	EstimatedSavingSeconds int    `json:"estimatedSavingSeconds"`
	Reason                 string `json:"reason"`
}

// advise scans the queued url-kind objects and flags domains whose
// pending URL volume would be cheaper as a single cpcode purge. The
// saving assumes one rate-limit slot per 50 URLs at five seconds each.
func advise(pendingURLs [][]string) []Suggestion {
	perDomain := make(map[string]int)
	for _, objects := range pendingURLs {
		for _, raw := range objects {
			u, err := url.Parse(raw)
			if err != nil || u.Host == "" {
				continue
			}
			perDomain[strings.ToLower(u.Host)]++
		}
	}

	var out []Suggestion
	for domain, count := range perDomain {
		if count <= advisorThreshold {
			continue
		}
		saving := 5 * (count/50 - 1)
		if saving < 0 {
			saving = 0
		}
		out = append(out, Suggestion{
			Domain:                 domain,
			URLCount:               count,
			SuggestedKind:          KindCPCode,
			EstimatedSavingSeconds: saving,
			Reason: "queued URL purges for this domain exceed " +
				"the volume a single cpcode purge would cover",
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URLCount != out[j].URLCount {
			return out[i].URLCount > out[j].URLCount
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
