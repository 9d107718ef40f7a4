package personalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	clickPath = "/api/email-campaigns/track/click"
	openPath  = "/api/email-campaigns/track/open"
)

var hrefRe = regexp.MustCompile(`href=(["'])([^"']+)(["'])`)

// InjectTracking routes links through the click endpoint and appends an
// open pixel. Unsubscribe, mailto and already tracked links are left alone.
func (p *Personalizer) InjectTracking(html string, campaignID, subscriberID, sendID uuid.UUID) string {
	if html == "" {
		return html
	}

	ids := url.Values{}
	ids.Set("c", campaignID.String())
	ids.Set("u", subscriberID.String())
	ids.Set("s", sendID.String())

	out := hrefRe.ReplaceAllStringFunc(html, func(m string) string {
		parts := hrefRe.FindStringSubmatch(m)
		link := parts[2]
		if skipTracking(link) {
			return m
		}
		q := url.Values{}
		for k, v := range ids {
			q[k] = v
		}
		q.Set("url", link)
		return fmt.Sprintf(`href=%s%s%s?%s%s`, parts[1], p.SiteURL, clickPath, q.Encode(), parts[3])
	})

	pixel := fmt.Sprintf(`<img src="%s%s?%s" width="1" height="1" alt="" style="display:none" />`,
		p.SiteURL, openPath, ids.Encode())

	if i := strings.LastIndex(strings.ToLower(out), "</body>"); i >= 0 {
		return out[:i] + pixel + out[i:]
	}
	return out + pixel
}

func skipTracking(link string) bool {
	lower := strings.ToLower(link)
	switch {
	case strings.HasPrefix(lower, "mailto:"), strings.HasPrefix(lower, "#"):
		return true
	case strings.Contains(lower, "/unsubscribe"), strings.Contains(lower, "{{unsubscribeurl}}"):
		return true
	case strings.Contains(lower, clickPath):
		return true
	}
	return false
}
