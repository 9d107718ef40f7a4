// Package personalize substitutes subscriber tokens into campaign content
// and builds the signed links embedded in every email.
package personalize

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

// Tokens recognized in subject, html and text content.
const (
	TokenFirstName        = "{{firstName}}"
	TokenLastName         = "{{lastName}}"
	TokenFullName         = "{{fullName}}"
	TokenEmail            = "{{email}}"
	TokenSubscription     = "{{subscription}}"
	TokenLifetimePurchase = "{{lifetimePurchase}}"
	TokenCompanyName      = "{{companyName}}"
	TokenUnsubscribeURL   = "{{unsubscribeUrl}}"
	TokenCurrentDate      = "{{currentDate}}"

	encodedEmailToken = "%7B%7Bemail%7D%7D"

	// DateLayout renders {{currentDate}} as e.g. "March 5, 2026".
	DateLayout = "January 2, 2006"
)

var allTokens = []string{
	TokenFirstName, TokenLastName, TokenFullName, TokenEmail, TokenSubscription,
	TokenLifetimePurchase, TokenCompanyName, TokenUnsubscribeURL, TokenCurrentDate,
}

var (
	unsubscribeHrefRe = regexp.MustCompile(`href=["']([^"']*/unsubscribe[^"']*)(?:\{\{email\}\}|%7B%7Bemail%7D%7D)([^"']*)["']`)
	emailHrefRe       = regexp.MustCompile(`href=["']([^"']*)(?:\{\{email\}\}|%7B%7Bemail%7D%7D)([^"']*)["']`)
)

// HasPersonalizationVariables reports whether content carries any token.
func HasPersonalizationVariables(content string) bool {
	for _, t := range allTokens {
		if strings.Contains(content, t) {
			return true
		}
	}
	return false
}

// Personalizer fills tokens for one subscriber at a time.
type Personalizer struct {
	SiteURL string
	Secret  string
	Now     func() time.Time
}

func New(siteURL, secret string) *Personalizer {
	return &Personalizer{
		SiteURL: strings.TrimRight(siteURL, "/"),
		Secret:  secret,
		Now:     time.Now,
	}
}

// Personalize replaces every token in content with the subscriber's values.
// Links are handled before plain tokens so unsubscribe hrefs get the signed
// URL rather than a bare address.
func (p *Personalizer) Personalize(content string, sub *model.Subscriber) string {
	if content == "" {
		return content
	}

	md := sub.Metadata
	firstName := md.FirstName
	if firstName == "" {
		firstName = "there"
	}
	fullName := strings.TrimSpace(strings.Join(nonEmpty(md.FirstName, md.LastName), " "))
	if fullName == "" {
		fullName = "there"
	}
	subscription := md.Subscription
	if subscription == "" {
		subscription = "none"
	}
	lifetimePurchase := md.LifetimePurchase
	if lifetimePurchase == "" {
		lifetimePurchase = "false"
	}

	encodedEmail := url.QueryEscape(sub.Email)
	unsubscribeURL := p.UnsubscribeURL(sub.Email)

	out := unsubscribeHrefRe.ReplaceAllLiteralString(content, `href="`+unsubscribeURL+`"`)
	out = emailHrefRe.ReplaceAllStringFunc(out, func(m string) string {
		parts := emailHrefRe.FindStringSubmatch(m)
		return `href="` + parts[1] + encodedEmail + parts[2] + `"`
	})

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	r := strings.NewReplacer(
		TokenFirstName, firstName,
		TokenLastName, md.LastName,
		TokenFullName, fullName,
		TokenEmail, sub.Email,
		encodedEmailToken, encodedEmail,
		TokenSubscription, subscription,
		TokenLifetimePurchase, lifetimePurchase,
		TokenCompanyName, md.CompanyName,
		TokenUnsubscribeURL, unsubscribeURL,
		TokenCurrentDate, now().Format(DateLayout),
	)
	return r.Replace(out)
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
