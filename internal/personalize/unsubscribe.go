package personalize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

const tokenLength = 32

// UnsubscribeURL returns the one-click unsubscribe link for email, signed so
// the landing page can trust the address in the query string.
func (p *Personalizer) UnsubscribeURL(email string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", p.sign(email))
	return p.SiteURL + "/unsubscribe?" + q.Encode()
}

// VerifyUnsubscribeToken checks a token produced by UnsubscribeURL.
func (p *Personalizer) VerifyUnsubscribeToken(email, token string) bool {
	return hmac.Equal([]byte(p.sign(email)), []byte(token))
}

func (p *Personalizer) sign(email string) string {
	h := hmac.New(sha256.New, []byte(p.Secret))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))[:tokenLength]
}
