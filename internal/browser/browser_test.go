package browser

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/fault"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in   string
		want Locator
	}{
		{"div.coupon", CSS("div.coupon")},
		{"css:div > p", CSS("div > p")},
		{`xpath://div[text()="x"]/..`, XPath(`//div[text()="x"]/..`)},
		{"id:sec", Locator{By: ByID, Target: "sec"}},
		{"name:loginKey", Locator{By: ByName, Target: "loginKey"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLocator(tt.in), tt.in)
	}
	assert.Equal(t, "id=sec", ParseLocator("id:sec").String())
}

func TestCSSFor(t *testing.T) {
	sel, err := cssFor(Locator{By: ByName, Target: "password"})
	require.NoError(t, err)
	assert.Equal(t, `[name="password"]`, sel)

	sel, err = cssFor(Locator{By: ByID, Target: "sec"})
	require.NoError(t, err)
	assert.Equal(t, `[id="sec"]`, sel)

	_, err = cssFor(XPath("//p"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil, "p"))

	stale := classify(errors.New("Could not find node with given id (-32000)"), "p.title")
	assert.ErrorIs(t, stale, fault.ErrStaleReference)

	plain := errors.New("net::ERR_NAME_NOT_RESOLVED")
	assert.Same(t, plain, classify(plain, "p"))

	blocked := fault.New(fault.InteractionBlocked, "button", nil)
	assert.Same(t, error(blocked), classify(blocked, "button"))
}

type closer struct {
	Driver
	mu    sync.Mutex
	calls int
}

func (c *closer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return errors.New("already gone")
}

func TestSessionCloseOnce(t *testing.T) {
	d := &closer{}
	s := NewSession(d)
	assert.False(t, s.Closed())

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.EqualError(t, s.Close(), "already gone")
		}()
	}
	wg.Wait()

	assert.True(t, s.Closed())
	assert.Equal(t, 1, d.calls)
}

func TestOptionsHeadless(t *testing.T) {
	headless := Options(config.BrowserConfig{Headless: true, Width: 800, Height: 600})
	windowed := Options(config.BrowserConfig{Width: 800, Height: 600})
	assert.Greater(t, len(headless), len(windowed))
}
