package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/motion"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/captcha"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/metrics"
)

const (
	testLoginURL   = "https://portal.test/osgweb/login"
	testBalanceURL = "https://portal.test/osgweb/userAcc"
	testUsageURL   = "https://portal.test/osgweb/electricityCharge"
)

// fakePage simula o portal: textos fixos por seletor e login que passa
// depois de N arrastos.
type fakePage struct {
	url          string
	succeedAfter int // 0 = nunca

	texts     map[string]string
	lists     map[string][]string
	htmls     map[string]string
	failClick map[string]int // falha a partir da N-ésima chamada (1-based)
	inputErr  error
	evalErr   error
	canvas    string

	clicks      []string
	clickCount  map[string]int
	inputs      []string
	navigations []string
	drags       []motion.Track
	closed      bool
}

func newFakePage(canvas string) *fakePage {
	return &fakePage{
		canvas:     canvas,
		texts:      map[string]string{},
		lists:      map[string][]string{},
		htmls:      map[string]string{},
		failClick:  map[string]int{},
		clickCount: map[string]int{},
	}
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.navigations = append(f.navigations, url)
	f.url = url
	return nil
}

func (f *fakePage) Reload(ctx context.Context) error { return ctx.Err() }

func (f *fakePage) URL(context.Context) (string, error) { return f.url, nil }

func (f *fakePage) Click(_ context.Context, sel Selector) error {
	f.clickCount[sel.Query]++
	if n, ok := f.failClick[sel.Query]; ok && f.clickCount[sel.Query] >= n {
		return ErrNotActionable
	}
	f.clicks = append(f.clicks, sel.Query)
	return nil
}

func (f *fakePage) Input(_ context.Context, sel Selector, index int, text string) error {
	if f.inputErr != nil {
		return f.inputErr
	}
	f.inputs = append(f.inputs, text)
	return nil
}

func (f *fakePage) Text(_ context.Context, sel Selector) (string, error) {
	if t, ok := f.texts[sel.Query]; ok {
		return t, nil
	}
	return "", ErrNotFound
}

func (f *fakePage) Texts(_ context.Context, sel Selector) ([]string, error) {
	if l, ok := f.lists[sel.Query]; ok {
		return l, nil
	}
	return nil, ErrNotFound
}

func (f *fakePage) HTML(_ context.Context, sel Selector) (string, error) {
	if h, ok := f.htmls[sel.Query]; ok {
		return h, nil
	}
	return "", ErrNotFound
}

func (f *fakePage) WaitVisible(context.Context, Selector) error { return nil }

func (f *fakePage) WaitText(context.Context, Selector, string) error { return nil }

func (f *fakePage) Eval(context.Context, string) (string, error) {
	if f.evalErr != nil {
		return "", f.evalErr
	}
	return f.canvas, nil
}

func (f *fakePage) Drag(_ context.Context, _ Selector, track motion.Track) error {
	f.drags = append(f.drags, track)
	if f.succeedAfter > 0 && len(f.drags) >= f.succeedAfter {
		f.url = "https://portal.test/osgweb/index"
	}
	return nil
}

func (f *fakePage) Close() error {
	f.closed = true
	return nil
}

func canvasDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 310, 155))
	for y := 0; y < 155; y++ {
		for x := 0; x < 310; x++ {
			img.Set(x, y, color.RGBA{70, 80, 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func fixedOffset(offset int) captcha.Inferrer {
	return captcha.InferrerFunc(func(context.Context, image.Image) (int, error) {
		return offset, nil
	})
}

func testOptions() Options {
	return Options{
		PhoneNumber:   "13800000000",
		Password:      "secret",
		LoginURL:      testLoginURL,
		BalanceURL:    testBalanceURL,
		UsageURL:      testUsageURL,
		ImplicitWait:  time.Second,
		WaitUnit:      time.Millisecond,
		RetryLimit:    5,
		RetentionDays: 7,
		Compensation:  1.06,
		Motion:        motion.DefaultOptions(),
	}
}

func newTestDriver(page Page, opts Options, inf captcha.Inferrer, counters metrics.Counters) *Driver {
	d := NewDriver(page, opts, Deps{
		Inferrer: inf,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Counters: counters,
		Rand:     rand.New(rand.NewPCG(1, 2)),
	})
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestLoginSucceedsAfterRetries(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.succeedAfter = 3
	counters := metrics.NewMemoryCounters()

	d := newTestDriver(page, testOptions(), fixedOffset(150), counters)
	require.Equal(t, StateNotStarted, d.State())

	require.NoError(t, d.Login(context.Background()))
	require.Equal(t, StateLoggedIn, d.State())
	require.Equal(t, 3, d.Attempts())
	require.Len(t, page.drags, 3)
	require.Equal(t, []string{"13800000000", "secret"}, page.inputs)

	// 150 * 1.06 = 159
	for _, track := range page.drags {
		dx, _ := track.Sum()
		require.Equal(t, 159, dx)
		require.GreaterOrEqual(t, track.Len(), 2)
	}

	attempts, _ := counters.Get(context.Background(), metrics.CaptchaAttempts)
	failures, _ := counters.Get(context.Background(), metrics.CaptchaFailures)
	require.EqualValues(t, 3, attempts)
	require.EqualValues(t, 2, failures)
}

func TestLoginFailsAfterRetryLimit(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	opts := testOptions()

	d := newTestDriver(page, opts, fixedOffset(120), nil)
	err := d.Login(context.Background())

	require.ErrorIs(t, err, ErrLoginFailed)
	require.Equal(t, StateLoginFailed, d.State())
	require.Equal(t, opts.RetryLimit, d.Attempts())
	require.Len(t, page.drags, opts.RetryLimit)
}

func TestLoginButtonNotReclickable(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	// primeiro clique (credenciais) passa, o de nova tentativa não
	page.failClick[selLoginButton.Query] = 2

	d := newTestDriver(page, testOptions(), fixedOffset(120), nil)
	err := d.Login(context.Background())

	require.ErrorIs(t, err, ErrLoginFailed)
	require.Equal(t, StateLoginFailed, d.State())
	require.Equal(t, 1, d.Attempts())
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	opts := testOptions()
	opts.Password = ""

	d := newTestDriver(page, opts, fixedOffset(120), nil)
	require.ErrorIs(t, d.Login(context.Background()), ErrCredentialFields)
	require.Empty(t, page.navigations)
	require.Equal(t, StateLoginFailed, d.State())
}

func TestLoginMissingCredentialFields(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.inputErr = ErrNotFound

	d := newTestDriver(page, testOptions(), fixedOffset(120), nil)
	require.ErrorIs(t, d.Login(context.Background()), ErrCredentialFields)
	require.Zero(t, d.Attempts())
	require.Empty(t, page.drags)
}

func TestLoginImplausibleOffsetSkipsDrag(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.succeedAfter = 1
	calls := 0
	inf := captcha.InferrerFunc(func(context.Context, image.Image) (int, error) {
		calls++
		if calls == 1 {
			return 0, nil
		}
		return 140, nil
	})

	d := newTestDriver(page, testOptions(), inf, nil)
	require.NoError(t, d.Login(context.Background()))
	require.Equal(t, 2, d.Attempts())
	require.Len(t, page.drags, 1)
}

func TestLoginSavesFailedSamples(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.succeedAfter = 2
	dir := t.TempDir()

	d := newTestDriver(page, testOptions(), fixedOffset(100), nil)
	d.samples = captcha.NewShadowCollector(dir)
	require.NoError(t, d.Login(context.Background()))

	matches, err := filepath.Glob(filepath.Join(dir, "*_meta.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestLoginCanvasErrorCountsAsAttempt(t *testing.T) {
	page := newFakePage("")
	page.evalErr = errors.New("canvas gone")
	opts := testOptions()
	opts.RetryLimit = 2

	d := newTestDriver(page, opts, fixedOffset(100), nil)
	require.ErrorIs(t, d.Login(context.Background()), ErrLoginFailed)
	require.Equal(t, 2, d.Attempts())
}

func loggedInDriver(t *testing.T, page *fakePage, opts Options, now time.Time) *Driver {
	t.Helper()
	page.succeedAfter = 1
	d := newTestDriver(page, opts, fixedOffset(100), nil)
	d.now = func() time.Time { return now }
	require.NoError(t, d.Login(context.Background()))
	return d
}

func TestAccounts(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.lists[selDropdownItems.Query] = []string{"户号:1111111111", "sem id", "户号:2222222222"}

	d := loggedInDriver(t, page, testOptions(), time.Now())
	accounts, err := d.Accounts(context.Background())
	require.NoError(t, err)
	// o item sem id continua ocupando a posição 1 do menu
	require.Equal(t, []model.MenuAccount{
		{Index: 0, ID: "1111111111"},
		{Index: 2, ID: "2222222222"},
	}, accounts)
}

func TestExtractUsesMenuPositionAfterItemWithoutID(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.lists[selDropdownItems.Query] = []string{"户号:1111111111", "sem id", "户号:2222222222"}
	fillPortal(page)
	page.texts[selInfoID.Query] = "2222222222"

	d := loggedInDriver(t, page, testOptions(), time.Date(2024, 3, 5, 9, 0, 0, 0, PortalZone))
	accounts, err := d.Accounts(context.Background())
	require.NoError(t, err)

	last := accounts[len(accounts)-1]
	acc, err := d.Extract(context.Background(), last.Index, last.ID)
	require.NoError(t, err)
	require.Equal(t, "2222222222", acc.ID)
	require.Contains(t, page.clicks, selAccountItem(2).Query)
	require.NotContains(t, page.clicks, selAccountItem(1).Query)
}

func TestExtractRejectsMismatchedAccount(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	fillPortal(page)
	page.texts[selInfoID.Query] = "户号:9999999999"

	d := loggedInDriver(t, page, testOptions(), time.Date(2024, 3, 5, 9, 0, 0, 0, PortalZone))
	acc, err := d.Extract(context.Background(), 0, "1111111111")
	require.ErrorIs(t, err, ErrAccountMismatch)
	require.Nil(t, acc)
	require.NotContains(t, page.clicks, selRetention7.Query)
}

func TestAccountsRequiresLogin(t *testing.T) {
	d := newTestDriver(newFakePage(""), testOptions(), fixedOffset(1), nil)
	_, err := d.Accounts(context.Background())
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestAccountsEmptyMenu(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	page.lists[selDropdownItems.Query] = []string{"nenhum"}

	d := loggedInDriver(t, page, testOptions(), time.Now())
	_, err := d.Accounts(context.Background())
	require.ErrorIs(t, err, ErrNoAccounts)
}

func fillPortal(page *fakePage) {
	page.texts[selInfoID.Query] = "1111111111"
	page.texts[selInfoLocation.Query] = "杭州市西湖区"
	page.texts[selBalance.Query] = "123.45"
	page.texts[selBalanceMarker.Query] = "当前欠费"
	page.texts[selYearUsage.Query] = "1520"
	page.texts[selYearCharge.Query] = "820.35"
	page.texts[selMonthTable.Query] = "2024-01\n310\n170.50\nMAX\n2024-02\n280.5\n155.20"
	page.texts[selFirstUsage.Query] = "8.41"
	page.texts[selFirstDate.Query] = "2024-03-04"
	page.htmls[selDailyTable.Query] = dailyHTML
}

func TestExtractAllFields(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	fillPortal(page)
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, PortalZone)

	d := loggedInDriver(t, page, testOptions(), now)
	acc, err := d.Extract(context.Background(), 0, "1111111111")
	require.NoError(t, err)
	require.True(t, acc.Complete(), "failures: %v", acc.Failures)

	require.Equal(t, "杭州市西湖区", acc.Location)
	require.Equal(t, "-123.45", acc.Balance.String())
	require.Equal(t, 2024, acc.Yearly.Year)
	require.InDelta(t, 1520.0, acc.Yearly.Usage, 1e-9)
	require.Len(t, acc.Monthly, 2)
	require.InDelta(t, 8.41, acc.LastDaily.Usage, 1e-9)
	require.Len(t, acc.Daily, 2)

	require.Contains(t, page.navigations, testBalanceURL)
	require.Contains(t, page.navigations, testUsageURL)
	require.Contains(t, page.clicks, selAccountItem(0).Query)
	require.Contains(t, page.clicks, selRetention7.Query)
	require.NotContains(t, page.clicks, selYearInput.Query)
}

func TestExtractJanuarySwitchesToPreviousYear(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	fillPortal(page)
	page.texts[selInfoID.Query] = "2222222222"
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, PortalZone)

	d := loggedInDriver(t, page, testOptions(), now)
	acc, err := d.Extract(context.Background(), 1, "2222222222")
	require.NoError(t, err)

	require.Equal(t, 2023, acc.Yearly.Year)
	require.Contains(t, page.clicks, selYearInput.Query)
	require.Contains(t, page.clicks, selYearOption(2023).Query)
	require.Contains(t, page.clicks, selAccountItem(1).Query)
}

func TestExtractPartialFailure(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	fillPortal(page)
	delete(page.texts, selYearUsage.Query)

	d := loggedInDriver(t, page, testOptions(), time.Date(2024, 3, 5, 9, 0, 0, 0, PortalZone))
	acc, err := d.Extract(context.Background(), 0, "1111111111")
	require.NoError(t, err)

	require.Nil(t, acc.Yearly)
	require.NotNil(t, acc.Balance)
	require.Len(t, acc.Monthly, 2)
	require.Len(t, acc.Daily, 2)
	require.Len(t, acc.Failures, 1)
	require.Equal(t, "yearly", acc.Failures[0].Field)
}

func TestExtractUnsupportedRetention(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	fillPortal(page)
	opts := testOptions()
	opts.RetentionDays = 14

	d := loggedInDriver(t, page, opts, time.Date(2024, 3, 5, 9, 0, 0, 0, PortalZone))
	acc, err := d.Extract(context.Background(), 0, "1111111111")
	require.NoError(t, err)

	require.Nil(t, acc.Daily)
	require.NotNil(t, acc.LastDaily)
	require.Len(t, acc.Failures, 1)
	require.Equal(t, model.KindConfig, acc.Failures[0].Kind)
	require.ErrorIs(t, acc.Failures[0], ErrUnsupportedRetention)
	require.NotContains(t, page.clicks, selRetention7.Query)
	require.NotContains(t, page.clicks, selRetention30.Query)
}

func TestExtractSelectionFailure(t *testing.T) {
	page := newFakePage(canvasDataURL(t))
	fillPortal(page)
	page.failClick[selAccountSuffix.Query] = 1

	d := loggedInDriver(t, page, testOptions(), time.Now())
	_, err := d.Extract(context.Background(), 0, "1111111111")
	require.ErrorIs(t, err, ErrNotActionable)
}

func TestCloseRunsClosers(t *testing.T) {
	page := newFakePage("")
	d := newTestDriver(page, testOptions(), fixedOffset(1), nil)
	var order []string
	d.OnClose(func() error { order = append(order, "browser"); return nil })
	d.OnClose(func() error { order = append(order, "profile"); return errors.New("busy") })

	err := d.Close()
	require.Error(t, err)
	require.True(t, page.closed)
	require.Equal(t, []string{"profile", "browser"}, order)
}

func TestSameURL(t *testing.T) {
	require.True(t, sameURL("https://www.95598.cn/osgweb/login", "https://www.95598.cn/osgweb/login/"))
	require.True(t, sameURL("https://www.95598.cn/osgweb/login?redirect=1", "https://www.95598.cn/osgweb/login"))
	require.False(t, sameURL("https://www.95598.cn/osgweb/index", "https://www.95598.cn/osgweb/login"))
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "138********", maskPhone("13800000000"))
	require.Equal(t, "**", maskPhone("12"))
}
