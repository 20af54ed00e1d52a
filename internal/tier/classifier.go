package tier

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/model"
)

// Built-in rule table. Config lists extend these. Exact matches beat
// suffix rules, and a more specific domain beats its parent.
var (
	scholarlyDomains = []string{
		"nature.com", "science.org", "thelancet.com", "nejm.org",
		"bmj.com", "pnas.org", "cell.com", "arxiv.org",
		"pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov",
		"sciencedirect.com", "jamanetwork.com", "cochranelibrary.com",
		"journals.plos.org", "dl.acm.org", "ieeexplore.ieee.org",
	}
	academicDomains = []string{
		"ethz.ch", "epfl.ch",
	}
	governmentDomains = []string{
		"un.org", "europa.eu", "oecd.org", "imf.org",
		"worldbank.org", "wto.org",
	}
	researchDomains = []string{
		"rand.org", "pewresearch.org", "brookings.edu", "nber.org",
		"cfr.org", "csis.org", "chathamhouse.org", "mpg.de",
	}
	newsDomains = []string{
		"reuters.com", "apnews.com", "afp.com", "bbc.com", "bbc.co.uk",
		"bloomberg.com", "ft.com", "economist.com", "nytimes.com",
		"washingtonpost.com", "theguardian.com", "wsj.com", "npr.org",
	}
)

// Country-coded academic and government domains (ox.ac.uk, unimelb.edu.au,
// service.gov.uk) that plain TLD suffixes miss.
var (
	academicPattern   = regexp.MustCompile(`(^|\.)(ac|edu)\.[a-z]{2}$`)
	governmentPattern = regexp.MustCompile(`(^|\.)(gov|mil)\.[a-z]{2}$`)
)

var tldRules = []struct {
	suffix string
	tier   model.Tier
}{
	{".edu", model.TierAcademic},
	{".gov", model.TierGovernment},
	{".mil", model.TierGovernment},
	{".int", model.TierGovernment},
}

// Classifier maps source domains to quality tiers. Read-only after
// construction, safe for concurrent use.
type Classifier struct {
	deny  map[string]bool
	exact map[string]model.Tier
}

// New builds a classifier from the built-in rule table extended by the
// configured domain lists. Configured entries override built-ins.
func New(cfg config.TierConfig) *Classifier {
	c := &Classifier{
		deny:  make(map[string]bool),
		exact: make(map[string]model.Tier),
	}

	register := func(domains []string, tier model.Tier) {
		for _, d := range domains {
			c.exact[strings.ToLower(d)] = tier
		}
	}
	register(scholarlyDomains, model.TierScholarly)
	register(academicDomains, model.TierAcademic)
	register(governmentDomains, model.TierGovernment)
	register(researchDomains, model.TierResearchOrg)
	register(newsDomains, model.TierNewsAgency)

	register(cfg.ScholarlyDomains, model.TierScholarly)
	register(cfg.AcademicDomains, model.TierAcademic)
	register(cfg.GovernmentDomains, model.TierGovernment)
	register(cfg.ResearchDomains, model.TierResearchOrg)
	register(cfg.NewsDomains, model.TierNewsAgency)

	for _, d := range cfg.DenyDomains {
		c.deny[strings.ToLower(d)] = true
	}

	return c
}

// Denied reports whether the URL's domain (or any parent of it) is
// deny-listed. Denied domains are excluded from retrieval entirely and
// never tiered.
func (c *Classifier) Denied(rawURL string) bool {
	for d := Domain(rawURL); d != ""; d = parent(d) {
		if c.deny[d] {
			return true
		}
	}
	return false
}

// Classify maps a URL to a quality tier. The result depends only on the
// domain: exact entry, then nearest listed parent, then TLD suffix, then
// country-coded pattern, then general.
func (c *Classifier) Classify(rawURL string) model.Tier {
	domain := Domain(rawURL)
	if domain == "" {
		return model.TierGeneral
	}

	// Walk the parent chain so the most specific listed domain wins
	// (pubmed.ncbi.nlm.nih.gov is scholarly even though nih.gov is not).
	for d := domain; d != ""; d = parent(d) {
		if tier, ok := c.exact[d]; ok {
			return tier
		}
	}

	for _, rule := range tldRules {
		if strings.HasSuffix(domain, rule.suffix) {
			return rule.tier
		}
	}

	if academicPattern.MatchString(domain) {
		return model.TierAcademic
	}
	if governmentPattern.MatchString(domain) {
		return model.TierGovernment
	}

	return model.TierGeneral
}

// Domain extracts the normalized domain from a URL: scheme and path
// dropped, port stripped, lowercased, leading www. trimmed. Inputs
// without a scheme are treated as bare domains.
func Domain(rawURL string) string {
	host := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		host = parsed.Host
	}
	if host == "" {
		host = rawURL
		if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
			host = host[:idx]
		}
	}

	host = strings.ToLower(strings.TrimSpace(host))
	if idx := strings.Index(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return strings.TrimPrefix(host, "www.")
}

func parent(domain string) string {
	if idx := strings.Index(domain, "."); idx >= 0 {
		return domain[idx+1:]
	}
	return ""
}
