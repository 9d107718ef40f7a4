// internal/service/template_service.go
package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

const (
	defaultSubject = "Newsletter"

	// emailToken is bound into the footer so the unsubscribe href carries
	// the raw {{email}} token for the personalizer to sign.
	emailToken = "{{email}}"
)

const emailLayout = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{ subject }}</title>
</head>
<body style="margin: 0; padding: 0; background-color: #f7f7f7;">
    <table width="100%" cellpadding="0" cellspacing="0" border="0" style="background-color: #f7f7f7;">
        <tr>
            <td align="center" style="padding: 20px 0;">
                <table width="100%" cellpadding="0" cellspacing="0" border="0" style="max-width: 600px; min-width: 320px; margin: 0 auto;">
                    <tr>
                        <td style="background-color: #ffffff; padding: 0 24px;">
                            {{ content }}
                            <div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #e9ecef; text-align: center; font-size: 12px; color: #666666;">
                                <p>You're receiving this email because you're subscribed to {{ brand }} updates.</p>
                                <p><a href="{{ site_url }}/unsubscribe?email={{ email_token }}" style="color: #6c63ff; text-decoration: none;">Unsubscribe</a> | <a href="{{ site_url }}" style="color: #6c63ff; text-decoration: none;">Visit our website</a></p>
                                <p>&copy; {{ year }} {{ brand }}. All rights reserved.</p>
                            </div>
                        </td>
                    </tr>
                </table>
            </td>
        </tr>
    </table>
</body>
</html>`

// RenderedEmail is a campaign's content after the layout is applied, before
// any per-subscriber substitution.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// LayoutRenderer wraps campaign content in the branded email shell. The
// layout is parsed once at construction.
type LayoutRenderer struct {
	tpl     *liquid.Template
	siteURL string
	brand   string
	now     func() time.Time
}

func NewLayoutRenderer(siteURL, brand string) (*LayoutRenderer, error) {
	tpl, err := liquid.NewEngine().ParseString(emailLayout)
	if err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}
	return &LayoutRenderer{
		tpl:     tpl,
		siteURL: strings.TrimRight(siteURL, "/"),
		brand:   brand,
		now:     time.Now,
	}, nil
}

// Render applies the layout and the content defaults to a campaign.
func (r *LayoutRenderer) Render(c *model.Campaign) (*RenderedEmail, error) {
	subject := c.Subject
	if subject == "" {
		subject = defaultSubject
	}

	body := c.HTMLContent
	if strings.TrimSpace(body) == "" {
		body = RenderTemplate("<h1>{subject}</h1><p>Content coming soon...</p>", map[string]string{"subject": subject})
	}

	text := c.TextContent
	if text == "" {
		text = subject
	}

	html, err := r.tpl.RenderString(map[string]any{
		"subject":     subject,
		"content":     body,
		"brand":       r.brand,
		"site_url":    r.siteURL,
		"email_token": emailToken,
		"year":        strconv.Itoa(r.now().Year()),
	})
	if err != nil {
		return nil, fmt.Errorf("render email layout: %w", err)
	}

	return &RenderedEmail{Subject: subject, HTML: html, Text: text}, nil
}

// RenderTemplate fills {key} placeholders.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
