package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }

	r, err := b.Build("run-1", []Entry{
		{Site: "shopee", Flow: "coupons", Outcome: "completed", Detail: "3 claimed", Lines: []string{"a", "b", "c <script>"}},
		{Site: "momo", Flow: "daily", Outcome: "login_failed", AuthStage: "credential_failed"},
	})
	require.NoError(t, err)

	assert.Equal(t, "claim4me Mar 1: 1 of 2 failed", r.Subject)
	assert.Equal(t, 1, r.Failures)
	assert.Contains(t, r.PlainBody, "shopee coupons: completed (3 claimed)")
	assert.Contains(t, r.PlainBody, "... and 1 more")
	assert.NotContains(t, r.PlainBody, "<script>")
	assert.Contains(t, r.HTMLBody, "login stage: credential_failed")
	assert.Contains(t, r.HTMLBody, `class="failed"`)
}

func TestBuildAllCompleted(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)

	r, err := b.Build("run-2", []Entry{{Site: "shopee", Flow: "coin", Outcome: "completed", DryRun: true}})
	require.NoError(t, err)
	assert.Contains(t, r.Subject, "all completed")
	assert.Contains(t, r.PlainBody, "[dry run]")
	assert.Zero(t, r.Failures)
}

func TestBuildEmpty(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	_, err = b.Build("x", nil)
	assert.Error(t, err)
}

func TestHTMLEscapesDetails(t *testing.T) {
	b, err := New(0)
	require.NoError(t, err)
	r, err := b.Build("x", []Entry{{Site: "s", Flow: "f", Outcome: "completed", Lines: []string{"<b>bold</b>"}}})
	require.NoError(t, err)
	assert.Contains(t, r.HTMLBody, "&lt;b&gt;bold&lt;/b&gt;")
}
