package backend

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRodBackend_FromPageDefaults(t *testing.T) {
	b := NewRodBackendFromPage(nil)
	assert.Equal(t, defaultClickTimeout, b.clickTimeout)
	// The page belongs to the caller.
	assert.NoError(t, b.Close())
}

func TestRodBackend_ForeignTarget(t *testing.T) {
	b := NewRodBackendFromPage(nil)
	ctx := context.Background()
	foreign := memTarget{selector: "#pay"}

	_, err := b.IsVisible(ctx, foreign)
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
	assert.ErrorIs(t, b.Click(ctx, foreign), ErrUnsupportedTarget)
	assert.ErrorIs(t, b.ScrollIntoView(ctx, foreign), ErrUnsupportedTarget)
	assert.ErrorIs(t, b.SetValue(ctx, foreign, "x"), ErrUnsupportedTarget)
	_, err = b.SelectOption(ctx, foreign, "ar")
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
	_, err = b.ReadText(ctx, foreign)
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
}

func TestRodTarget_Selector(t *testing.T) {
	assert.Equal(t, "#total", rodTarget{selector: "#total"}.Selector())
}

const clickFixture = `<!doctype html>
<html><body>
<button id="covered" onclick="document.getElementById('out').textContent='covered'">Covered</button>
<div style="position:fixed;inset:0;background:rgba(0,0,0,.5)"></div>
<button id="hidden" style="display:none" onclick="document.getElementById('out').textContent='hidden'">Hidden</button>
<span id="out"></span>
</body></html>`

// newBrowserBackend starts a headless browser on the click fixture, skipping
// when no local Chrome is installed.
func newBrowserBackend(t *testing.T) *RodBackend {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local Chrome/Chromium")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	b, err := NewRodBackend(ctx, RodOptions{
		URL:          "data:text/html," + url.PathEscape(clickFixture),
		Headless:     true,
		BrowserBin:   bin,
		ClickTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRodBackend_ClickReturnsForUninteractableTargets(t *testing.T) {
	b := newBrowserBackend(t)
	ctx := context.Background()

	for _, sel := range []string{"#covered", "#hidden"} {
		t.Run(sel, func(t *testing.T) {
			tgt, found, err := b.Locate(ctx, sel)
			require.NoError(t, err)
			require.True(t, found)

			start := time.Now()
			require.NoError(t, b.Click(ctx, tgt))
			assert.Less(t, time.Since(start), 5*time.Second)

			out, _, err := b.Locate(ctx, "#out")
			require.NoError(t, err)
			text, err := b.ReadText(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, sel[1:], text)
		})
	}
}

func TestRodBackend_ClickCancelled(t *testing.T) {
	b := newBrowserBackend(t)

	tgt, found, err := b.Locate(context.Background(), "#hidden")
	require.NoError(t, err)
	require.True(t, found)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, b.Click(ctx, tgt))
}
