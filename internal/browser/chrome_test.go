package browser

import (
	"context"
	"net/url"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/config"
)

func TestRelativeXPath(t *testing.T) {
	assert.Equal(t, ".//p", relativeXPath("//p"))
	assert.Equal(t, "./a/p", relativeXPath("./a/p"))
	assert.Equal(t, "p[@class='x']", relativeXPath("p[@class='x']"))
}

// newTestChrome starts a headless browser, skipping when none is installed.
func newTestChrome(t *testing.T) *Chrome {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test")
	}
	found := false
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no chrome binary")
	}
	c, err := NewChrome(context.Background(), config.BrowserConfig{Headless: true, Width: 800, Height: 600}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestChromeScopedXPath(t *testing.T) {
	c := newTestChrome(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page := `<div id="box"><p>inside</p></div><p>outside</p>`
	require.NoError(t, c.Navigate(ctx, "data:text/html,"+url.PathEscape(page)))

	boxes, err := c.FindAll(ctx, nil, CSS("#box"))
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	all, err := c.FindAll(ctx, nil, XPath("//p"))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := c.FindAll(ctx, boxes[0], XPath("//p"))
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	text, err := c.Text(ctx, scoped[0])
	require.NoError(t, err)
	assert.Equal(t, "inside", text)

	none, err := c.FindAll(ctx, boxes[0], XPath(".//span"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
