package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/claim4me/internal/auth"
	"github.com/ibeckermayer/claim4me/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "claim4me.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCookies(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("shopee")
	assert.ErrorIs(t, err, auth.ErrNoCookies)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.Save("shopee", []*network.Cookie{
		{Name: "SPC_EC", Value: "one", Domain: ".shopee.tw", Expires: float64(exp.Unix())},
	}))
	require.NoError(t, s.Save("shopee", []*network.Cookie{
		{Name: "SPC_EC", Value: "two", Domain: ".shopee.tw", Expires: float64(exp.Unix())},
		{Name: "csrftoken", Value: "x", Session: true},
	}))

	got, err := s.Load("shopee")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Value)

	stored, err := s.Stored("shopee")
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.Equal(exp))

	require.NoError(t, s.Delete("shopee"))
	_, err = s.Load("shopee")
	assert.ErrorIs(t, err, auth.ErrNoCookies)
}

func TestCookiesWithoutEnumFields(t *testing.T) {
	s := newTestStore(t)
	exp := float64(time.Now().Add(time.Hour).Unix())
	require.NoError(t, s.Save("momo", []*network.Cookie{
		{Name: "token", Value: "v", Domain: ".momoshop.com.tw", Expires: exp},
		{Name: "sid", Value: "w", SameSite: network.CookieSameSiteStrict, Priority: network.CookiePriorityMedium, Session: true},
	}))

	got, err := s.Load("momo")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ".momoshop.com.tw", got[0].Domain)
	assert.Equal(t, network.CookieSameSiteStrict, got[1].SameSite)
	assert.True(t, got[1].Session)
}

func TestExpiredCookies(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("momo", []*network.Cookie{
		{Name: "token", Value: "v", Expires: float64(time.Now().Add(time.Hour).Unix())},
	}))
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := s.Load("momo")
	assert.ErrorIs(t, err, auth.ErrNoCookies)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	runs := []Run{
		{ID: "a", Site: "shopee", Flow: "coin", Outcome: OutcomeCompleted, Detail: "1,234", StartedAt: base, FinishedAt: base.Add(time.Minute)},
		{ID: "b", Site: "shopee", Flow: "coin", Outcome: OutcomeLoginFailed, AuthStage: "sms_failed", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)},
		{ID: "c", Site: "shopee", Flow: "coin", Outcome: OutcomeCompleted, DryRun: true, StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2 * time.Hour)},
	}
	for i := range runs {
		require.NoError(t, s.SaveRun(&runs[i]))
	}

	recent, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "sms_failed", recent[1].AuthStage)
	assert.Equal(t, time.Minute, recent[2].Duration())

	last, err := s.LastCompleted("shopee", "coin")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a", last.ID)

	none, err := s.LastCompleted("momo", "daily")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCache(t *testing.T) {
	c := NewCache(t.TempDir())
	tick := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	_, _, err := LoadLatestOutput[[]types.SaleItem](c, OutputSales)
	assert.Error(t, err)

	_, err = SaveOutput(c, OutputSales, []types.SaleItem{{Name: "old"}})
	require.NoError(t, err)
	path, err := SaveOutput(c, OutputSales, []types.SaleItem{{Name: "kettle", Price: "$199", SoldOut: true}})
	require.NoError(t, err)

	items, from, err := LoadLatestOutput[[]types.SaleItem](c, OutputSales)
	require.NoError(t, err)
	assert.Equal(t, path, from)
	require.Len(t, items, 1)
	assert.Equal(t, "kettle", items[0].Name)
	assert.True(t, items[0].SoldOut)

	html, err := c.SaveText(OutputReport, "<p>ok</p>", ".html")
	require.NoError(t, err)
	assert.Equal(t, ".html", filepath.Ext(html))
}
