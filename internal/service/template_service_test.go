package service_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

func TestLayoutRenderer_Defaults(t *testing.T) {
	r, err := service.NewLayoutRenderer("https://example.com/", "NNAud.io")
	require.NoError(t, err)

	out, err := r.Render(&model.Campaign{})
	require.NoError(t, err)

	assert.Equal(t, "Newsletter", out.Subject)
	assert.Equal(t, "Newsletter", out.Text)
	assert.Contains(t, out.HTML, "<title>Newsletter</title>")
	assert.Contains(t, out.HTML, "<h1>Newsletter</h1><p>Content coming soon...</p>")
	assert.Contains(t, out.HTML, `href="https://example.com/unsubscribe?email={{email}}"`)
	assert.Contains(t, out.HTML, fmt.Sprintf("&copy; %d NNAud.io", time.Now().Year()))
}

func TestLayoutRenderer_ContentIsNotInterpreted(t *testing.T) {
	r, err := service.NewLayoutRenderer("https://example.com", "NNAud.io")
	require.NoError(t, err)

	out, err := r.Render(&model.Campaign{
		Subject:     "Hi {{firstName}}",
		HTMLContent: "<p>Hello {{firstName}} {% if x %}raw{% endif %}</p>",
		TextContent: "plain",
	})
	require.NoError(t, err)

	assert.Equal(t, "plain", out.Text)
	assert.True(t, strings.Contains(out.HTML, "<p>Hello {{firstName}} {% if x %}raw{% endif %}</p>"))
	assert.Contains(t, out.HTML, "<title>Hi {{firstName}}</title>")
}

func TestRenderTemplate(t *testing.T) {
	assert.Equal(t, "Hi Ann!", service.RenderTemplate("Hi {name}!", map[string]string{"name": "Ann"}))
}
