// Package remediation turns raw Lighthouse payloads into prioritized fix
// lists and, when an LLM provider is configured, into an AI-written plan.
package remediation

import (
	"encoding/json"
	"sort"
)

// Impact ranks how much a fix is expected to help.
type Impact string

// Impact levels from highest to lowest.
const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

func (i Impact) rank() int {
	switch i {
	case ImpactHigh:
		return 0
	case ImpactMedium:
		return 1
	case ImpactLow:
		return 2
	}
	return 3
}

// MaxActions caps the number of items returned by ExtractActions.
const MaxActions = 8

// failingScore is the Lighthouse score below which an audit needs work.
const failingScore = 0.9

// ActionItem is one recommended fix.
type ActionItem struct {
	AuditID string `json:"auditId"`
	Title   string `json:"title"`
	Fix     string `json:"fix"`
	Impact  Impact `json:"impact"`
	Savings string `json:"savings,omitempty"`
}

type guidance struct {
	title  string
	fix    string
	impact Impact
}

var auditGuidance = map[string]guidance{
	"render-blocking-resources": {
		title:  "Eliminate render-blocking CSS and JavaScript",
		fix:    "Files load before the page can paint. Add defer to script tags, inline critical CSS, or preload key resources.",
		impact: ImpactHigh,
	},
	"uses-optimized-images": {
		title:  "Compress and modernize images",
		fix:    "Images are uncompressed or in legacy formats. Convert to WebP or AVIF and compress them; this usually cuts image weight by 50-80%.",
		impact: ImpactHigh,
	},
	"unused-javascript": {
		title:  "Remove JavaScript that never runs",
		fix:    "Script is downloaded and parsed but never executed. Drop unused libraries, split the bundle, or load code on demand.",
		impact: ImpactHigh,
	},
	"server-response-time": {
		title:  "Speed up server response time",
		fix:    "The server takes too long to answer. Look for slow database queries, enable server-side caching, or put a CDN in front.",
		impact: ImpactHigh,
	},
	"largest-contentful-paint-element": {
		title:  "Optimize the largest content element",
		fix:    "The main content element loads late. Preload it, reduce its size, or move it earlier in the HTML.",
		impact: ImpactHigh,
	},
	"uses-long-cache-ttl": {
		title:  "Cache static assets longer",
		fix:    "Browsers re-download images, fonts and scripts on every visit. Set Cache-Control: max-age=31536000 on immutable assets.",
		impact: ImpactMedium,
	},
	"uses-text-compression": {
		title:  "Enable Gzip or Brotli compression",
		fix:    "HTML, CSS and JS are sent uncompressed. Turn on Brotli at the server or CDN.",
		impact: ImpactMedium,
	},
	"uses-responsive-images": {
		title:  "Serve correctly sized images",
		fix:    "Images are much larger than their rendered size. Use srcset to serve smaller files to smaller screens.",
		impact: ImpactMedium,
	},
	"offscreen-images": {
		title:  "Lazy-load offscreen images",
		fix:    "Images below the fold are fetched immediately. Add loading=\"lazy\" to them.",
		impact: ImpactMedium,
	},
	"unused-css-rules": {
		title:  "Remove unused CSS",
		fix:    "Stylesheets ship rules that never apply. Purge unused selectors at build time.",
		impact: ImpactMedium,
	},
	"unminified-javascript": {
		title:  "Minify JavaScript",
		fix:    "Scripts contain whitespace and comments. Enable minification in the build tool.",
		impact: ImpactLow,
	},
	"unminified-css": {
		title:  "Minify CSS",
		fix:    "Stylesheets contain unnecessary whitespace. Enable CSS minification in the build tool.",
		impact: ImpactLow,
	},
	"uses-rel-preload": {
		title:  "Preload key requests",
		fix:    "Critical fonts, hero images and scripts are discovered late. Add <link rel=preload> in the head.",
		impact: ImpactLow,
	},
}

type rawAudits struct {
	Audits map[string]struct {
		Score        *float64 `json:"score"`
		DisplayValue string   `json:"displayValue"`
	} `json:"audits"`
}

// ExtractActions returns the known failing audits in raw, highest impact
// first, capped at MaxActions. Unparseable payloads yield no actions.
func ExtractActions(raw json.RawMessage) []ActionItem {
	if len(raw) == 0 {
		return nil
	}
	var lhr rawAudits
	if err := json.Unmarshal(raw, &lhr); err != nil {
		return nil
	}

	var items []ActionItem
	for auditID, g := range auditGuidance {
		a, ok := lhr.Audits[auditID]
		if !ok || a.Score == nil || *a.Score >= failingScore {
			continue
		}
		items = append(items, ActionItem{
			AuditID: auditID,
			Title:   g.title,
			Fix:     g.fix,
			Impact:  g.impact,
			Savings: a.DisplayValue,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Impact.rank() != items[j].Impact.rank() {
			return items[i].Impact.rank() < items[j].Impact.rank()
		}
		return items[i].AuditID < items[j].AuditID
	})
	if len(items) > MaxActions {
		items = items[:MaxActions]
	}
	return items
}
