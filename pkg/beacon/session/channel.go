package session

import (
	"net/url"
	"strings"
)

// Acquisition channels.
const (
	ChannelDirect        = "direct"
	ChannelOrganicSearch = "organic_search"
	ChannelPaidSearch    = "paid_search"
	ChannelSocial        = "social"
	ChannelEmail         = "email"
	ChannelReferral      = "referral"
	ChannelCampaign      = "campaign"
)

var searchHosts = []string{"google.", "bing.", "duckduckgo.", "yahoo.", "baidu.", "yandex.", "ecosia."}

var socialHosts = []string{
	"facebook.", "fb.", "twitter.", "t.co", "x.com", "linkedin.", "lnkd.in",
	"instagram.", "reddit.", "youtube.", "tiktok.", "pinterest.", "news.ycombinator.",
}

var socialSources = map[string]bool{
	"facebook": true, "twitter": true, "x": true, "linkedin": true, "instagram": true,
	"reddit": true, "youtube": true, "tiktok": true, "pinterest": true,
}

var paidMediums = map[string]bool{"cpc": true, "ppc": true, "paid": true, "paidsearch": true, "paid_search": true}

// Attribute classifies how a visitor arrived. UTM parameters win over the
// referrer; an empty referrer with no UTM tags is direct traffic.
func Attribute(referrer, utmSource, utmMedium string) string {
	medium := strings.ToLower(strings.TrimSpace(utmMedium))
	source := strings.ToLower(strings.TrimSpace(utmSource))

	switch {
	case paidMediums[medium]:
		return ChannelPaidSearch
	case medium == "email" || source == "newsletter":
		return ChannelEmail
	case medium == "social" || socialSources[source]:
		return ChannelSocial
	case medium != "" || source != "":
		return ChannelCampaign
	}

	if referrer == "" {
		return ChannelDirect
	}
	host := referrer
	if u, err := url.Parse(referrer); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)

	switch {
	case hostMatches(host, searchHosts):
		return ChannelOrganicSearch
	case hostMatches(host, socialHosts):
		return ChannelSocial
	default:
		return ChannelReferral
	}
}

// AttributeURL extracts utm_source/utm_medium from pageURL and attributes
// the visit.
func AttributeURL(pageURL, referrer string) string {
	var source, medium string
	if u, err := url.Parse(pageURL); err == nil {
		q := u.Query()
		source = q.Get("utm_source")
		medium = q.Get("utm_medium")
	}
	return Attribute(referrer, source, medium)
}

func hostMatches(host string, candidates []string) bool {
	if host == "" {
		return false
	}
	host = strings.TrimPrefix(host, "www.")
	for _, c := range candidates {
		if strings.HasSuffix(c, ".") {
			// Label prefix such as "google." matches google.com and news.google.co.uk.
			if strings.HasPrefix(host, c) || strings.Contains(host, "."+c) {
				return true
			}
			continue
		}
		if host == c || strings.HasSuffix(host, "."+c) {
			return true
		}
	}
	return false
}
