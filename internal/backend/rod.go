package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const defaultClickTimeout = 5 * time.Second

// RodOptions configures the browser launched by NewRodBackend.
type RodOptions struct {
	URL        string
	Width      int
	Height     int
	Headless   bool
	BrowserBin string // empty: look up a local Chrome/Chromium
	ProfileDir string // Chrome/Chromium user data dir for authenticated sessions
	// ClickTimeout bounds a pointer click on an interactable element.
	ClickTimeout time.Duration
}

type rodTarget struct {
	selector string
	el       *rod.Element
}

func (t rodTarget) Selector() string { return t.selector }

// RodBackend drives a Chrome page over the DevTools protocol.
type RodBackend struct {
	launcher     *launcher.Launcher
	browser      *rod.Browser
	page         *rod.Page
	clickTimeout time.Duration
}

// NewRodBackend launches a browser, opens opts.URL and waits for it to load.
func NewRodBackend(ctx context.Context, opts RodOptions) (*RodBackend, error) {
	if opts.Width == 0 {
		opts.Width = 1280
	}
	if opts.Height == 0 {
		opts.Height = 720
	}
	if opts.ClickTimeout <= 0 {
		opts.ClickTimeout = defaultClickTimeout
	}

	bin := opts.BrowserBin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	l := launcher.New().Bin(bin).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: opts.URL})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page %s: %w", opts.URL, err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("wait for page load: %w", err)
	}

	return &RodBackend{launcher: l, browser: browser, page: page, clickTimeout: opts.ClickTimeout}, nil
}

// NewRodBackendFromPage wraps an already-open page owned by the caller.
// Close leaves that page and its browser alone.
func NewRodBackendFromPage(page *rod.Page) *RodBackend {
	return &RodBackend{page: page, clickTimeout: defaultClickTimeout}
}

// Close releases the page and the browser it launched, if any.
func (b *RodBackend) Close() error {
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return err
}

func (b *RodBackend) elem(ctx context.Context, t Target) (*rod.Element, error) {
	rt, ok := t.(rodTarget)
	if !ok {
		return nil, fmt.Errorf("%w: foreign target %T", ErrUnsupportedTarget, t)
	}
	return rt.el.Context(ctx), nil
}

func (b *RodBackend) eval(ctx context.Context, t Target, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	el, err := b.elem(ctx, t)
	if err != nil {
		return nil, err
	}
	return el.Eval(js, args...)
}

// Locate uses a non-blocking lookup; retrying is the resolver's job.
func (b *RodBackend) Locate(ctx context.Context, selector string) (Target, bool, error) {
	has, el, err := b.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, false, err
	}
	if !has {
		return nil, false, nil
	}
	return rodTarget{selector: selector, el: el}, true, nil
}

func (b *RodBackend) IsVisible(ctx context.Context, t Target) (bool, error) {
	el, err := b.elem(ctx, t)
	if err != nil {
		return false, err
	}
	return el.Visible()
}

func (b *RodBackend) ScrollIntoView(ctx context.Context, t Target) error {
	_, err := b.eval(ctx, t, `() => this.scrollIntoView({block: 'center', inline: 'center'})`)
	return err
}

// Click sends a real mouse click when the element can receive one. Hidden or
// covered elements get a DOM click instead, since rod would wait for them to
// become interactable.
func (b *RodBackend) Click(ctx context.Context, t Target) error {
	el, err := b.elem(ctx, t)
	if err != nil {
		return err
	}
	if _, err := el.Interactable(); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return domClick(el)
	}
	err = el.Timeout(b.clickTimeout).Click(proto.InputMouseButtonLeft, 1)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return domClick(el)
	}
	return err
}

func domClick(el *rod.Element) error {
	_, err := el.Eval(`() => this.click()`)
	return err
}

func (b *RodBackend) HasValue(ctx context.Context, t Target) (bool, error) {
	res, err := b.eval(ctx, t, `() => 'value' in this && ['INPUT', 'TEXTAREA', 'SELECT'].includes(this.tagName)`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (b *RodBackend) SetValue(ctx context.Context, t Target, value string) error {
	res, err := b.eval(ctx, t, `(v) => {
		if (!('value' in this)) return false;
		this.value = v;
		return true;
	}`, value)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s has no value", ErrUnsupportedTarget, t.Selector())
	}
	return nil
}

func (b *RodBackend) NotifyInput(ctx context.Context, t Target) error {
	_, err := b.eval(ctx, t, `() => this.dispatchEvent(new Event('input', {bubbles: true}))`)
	return err
}

func (b *RodBackend) NotifyChange(ctx context.Context, t Target) error {
	_, err := b.eval(ctx, t, `() => this.dispatchEvent(new Event('change', {bubbles: true}))`)
	return err
}

func (b *RodBackend) SelectOption(ctx context.Context, t Target, value string) (bool, error) {
	res, err := b.eval(ctx, t, `(v) => {
		if (this.tagName !== 'SELECT') return 'unsupported';
		const opt = Array.from(this.options).find(o => o.value === v || o.text.trim() === v);
		if (!opt) return 'missing';
		this.value = opt.value;
		this.dispatchEvent(new Event('change', {bubbles: true}));
		return 'ok';
	}`, value)
	if err != nil {
		return false, err
	}
	switch res.Value.String() {
	case "ok":
		return true, nil
	case "missing":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s is not a select", ErrUnsupportedTarget, t.Selector())
	}
}

func (b *RodBackend) ReadValue(ctx context.Context, t Target) (string, error) {
	res, err := b.eval(ctx, t, `() => this.value == null ? '' : String(this.value)`)
	if err != nil {
		return "", err
	}
	return res.Value.String(), nil
}

func (b *RodBackend) ReadText(ctx context.Context, t Target) (string, error) {
	el, err := b.elem(ctx, t)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (b *RodBackend) CurrentState(ctx context.Context) (string, error) {
	res, err := b.page.Context(ctx).Eval(`() => window.location.href`)
	if err != nil {
		return "", err
	}
	return res.Value.String(), nil
}
