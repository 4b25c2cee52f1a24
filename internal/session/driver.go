// Package session conduz uma sessão autenticada no portal: login com o
// captcha deslizante, enumeração das contas e extração dos dados de cada uma.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/motion"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/captcha"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/config"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/metrics"
)

var (
	ErrLoginFailed          = errors.New("login falhou")
	ErrCredentialFields     = errors.New("campos de credencial indisponíveis")
	ErrUnsupportedRetention = errors.New("janela de retenção não suportada")
	ErrNoAccounts           = errors.New("nenhuma conta encontrada no menu")
	ErrAccountMismatch      = errors.New("conta exibida difere da selecionada")
	ErrNotLoggedIn          = errors.New("sessão não autenticada")
)

// State é a fase do login.
type State int

const (
	StateNotStarted State = iota
	StatePageLoaded
	StateCredentialsEntered
	StateChallengeSolving
	StateLoggedIn
	StateLoginFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StatePageLoaded:
		return "page_loaded"
	case StateCredentialsEntered:
		return "credentials_entered"
	case StateChallengeSolving:
		return "challenge_solving"
	case StateLoggedIn:
		return "logged_in"
	case StateLoginFailed:
		return "login_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options são os parâmetros de uma sessão.
type Options struct {
	PhoneNumber string
	Password    string

	LoginURL   string
	BalanceURL string
	UsageURL   string

	// ImplicitWait limita cada espera/clique individual.
	ImplicitWait time.Duration
	// WaitUnit é a pausa entre passos da UI.
	WaitUnit     time.Duration
	LoginTimeout time.Duration
	RetryLimit   int

	RetentionDays int
	// Compensation corrige a diferença entre a escala do canvas e a do slider.
	Compensation float64
	Motion       motion.Options
}

func OptionsFromConfig(e config.Electricity) Options {
	return Options{
		PhoneNumber:   e.PhoneNumber,
		Password:      e.Password,
		LoginURL:      e.LoginURL,
		BalanceURL:    e.BalanceURL,
		UsageURL:      e.UsageURL,
		ImplicitWait:  e.ImplicitWait,
		WaitUnit:      e.WaitUnit,
		LoginTimeout:  e.LoginExpectedTime,
		RetryLimit:    e.RetryTimesLimit,
		RetentionDays: e.DataRetentionDays,
		Compensation:  e.OffsetCompensation,
		Motion:        motion.DefaultOptions(),
	}
}

// Deps são os colaboradores opcionais do driver.
type Deps struct {
	Inferrer captcha.Inferrer
	Logger   *slog.Logger
	Counters metrics.Counters
	Samples  *captcha.ShadowCollector
	Rand     *rand.Rand
}

// Driver conduz uma única sessão. Não é seguro para uso concorrente.
type Driver struct {
	page     Page
	opts     Options
	inferrer captcha.Inferrer
	logger   *slog.Logger
	counters metrics.Counters
	samples  *captcha.ShadowCollector
	rng      *rand.Rand

	state   State
	attempt int
	closers []func() error

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDriver(page Page, opts Options, deps Deps) *Driver {
	if opts.RetryLimit < 1 {
		opts.RetryLimit = 1
	}
	if opts.Compensation <= 0 {
		opts.Compensation = 1
	}
	if opts.ImplicitWait <= 0 {
		opts.ImplicitWait = 60 * time.Second
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = opts.ImplicitWait
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Counters == nil {
		deps.Counters = metrics.NewMemoryCounters()
	}
	if deps.Rand == nil {
		deps.Rand = motion.NewRand()
	}
	return &Driver{
		page:     page,
		opts:     opts,
		inferrer: deps.Inferrer,
		logger:   deps.Logger.With("component", "session"),
		counters: deps.Counters,
		samples:  deps.Samples,
		rng:      deps.Rand,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (d *Driver) State() State  { return d.state }
func (d *Driver) Attempts() int { return d.attempt }

// OnClose registra algo para liberar junto com a página (ex.: o browser).
func (d *Driver) OnClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close libera a página e tudo registrado em OnClose, em ordem reversa.
func (d *Driver) Close() error {
	errs := []error{d.page.Close()}
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func (d *Driver) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.opts.ImplicitWait)
}

func (d *Driver) pause(ctx context.Context, units int) error {
	return d.sleep(ctx, time.Duration(units)*d.opts.WaitUnit)
}

func (d *Driver) click(ctx context.Context, sel Selector) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()
	return d.page.Click(ctx, sel)
}

func (d *Driver) text(ctx context.Context, sel Selector) (string, error) {
	ctx, cancel := d.bounded(ctx)
	defer cancel()
	return d.page.Text(ctx, sel)
}

func (d *Driver) waitVisible(ctx context.Context, sel Selector) error {
	ctx, cancel := d.bounded(ctx)
	defer cancel()
	return d.page.WaitVisible(ctx, sel)
}

func (d *Driver) navigate(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.LoginTimeout)
	defer cancel()
	return d.page.Navigate(ctx, target)
}

// Login leva a sessão de NotStarted até LoggedIn ou LoginFailed.
func (d *Driver) Login(ctx context.Context) error {
	if d.state == StateLoggedIn {
		return nil
	}
	if d.opts.PhoneNumber == "" || d.opts.Password == "" {
		d.state = StateLoginFailed
		return fmt.Errorf("%w: credenciais vazias", ErrCredentialFields)
	}

	if err := d.navigate(ctx, d.opts.LoginURL); err != nil {
		d.state = StateLoginFailed
		return fmt.Errorf("erro abrindo página de login: %w", err)
	}
	d.state = StatePageLoaded
	d.logger.Info("página de login aberta", "url", d.opts.LoginURL)

	if err := d.enterCredentials(ctx); err != nil {
		d.state = StateLoginFailed
		return err
	}
	d.state = StateCredentialsEntered

	return d.solveChallenge(ctx)
}

func (d *Driver) enterCredentials(ctx context.Context) error {
	if err := d.pause(ctx, 1); err != nil {
		return err
	}
	// troca para login com senha
	if err := d.click(ctx, selPasswordTab); err != nil {
		return fmt.Errorf("%w: aba de senha: %v", ErrCredentialFields, err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return err
	}

	for i, value := range []string{d.opts.PhoneNumber, d.opts.Password} {
		inputCtx, cancel := d.bounded(ctx)
		err := d.page.Input(inputCtx, selInputs, i, value)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: campo %d: %v", ErrCredentialFields, i, err)
		}
	}
	d.logger.Info("credenciais preenchidas", "user", maskPhone(d.opts.PhoneNumber))

	if err := d.click(ctx, selAgree); err != nil {
		return fmt.Errorf("%w: termo de aceite: %v", ErrCredentialFields, err)
	}
	if err := d.pause(ctx, 1); err != nil {
		return err
	}
	if err := d.click(ctx, selLoginButton); err != nil {
		return fmt.Errorf("%w: botão de login: %v", ErrCredentialFields, err)
	}
	return d.pause(ctx, 2)
}

func (d *Driver) solveChallenge(ctx context.Context) error {
	if d.inferrer == nil {
		d.state = StateLoginFailed
		return fmt.Errorf("%w: %v", ErrLoginFailed, captcha.ErrSolverUnavailable)
	}

	for attempt := 1; attempt <= d.opts.RetryLimit; attempt++ {
		d.state = StateChallengeSolving
		d.attempt = attempt
		d.counters.Inc(ctx, metrics.CaptchaAttempts)

		ok, err := d.attemptChallenge(ctx, attempt)
		if ctxErr := ctx.Err(); ctxErr != nil {
			d.state = StateLoginFailed
			return ctxErr
		}
		if ok {
			d.state = StateLoggedIn
			d.logger.Info("login realizado", "attempt", attempt)
			return nil
		}

		d.counters.Inc(ctx, metrics.CaptchaFailures)
		d.logger.Warn("captcha não resolvido",
			"attempt", attempt, "remaining", d.opts.RetryLimit-attempt, "err", err)
		if attempt == d.opts.RetryLimit {
			break
		}

		// o portal recarrega o desafio quando o botão é clicado de novo
		if err := d.click(ctx, selLoginButton); err != nil {
			d.state = StateLoginFailed
			return fmt.Errorf("%w: botão de login não clicável após tentativa %d: %v", ErrLoginFailed, attempt, err)
		}
		if err := d.pause(ctx, 2); err != nil {
			d.state = StateLoginFailed
			return err
		}
	}

	d.state = StateLoginFailed
	return fmt.Errorf("%w: captcha não resolvido em %d tentativas", ErrLoginFailed, d.opts.RetryLimit)
}

// attemptChallenge faz uma tentativa. false sem erro significa que o arrasto
// aconteceu mas o portal não aceitou.
func (d *Driver) attemptChallenge(ctx context.Context, attempt int) (bool, error) {
	evalCtx, cancel := d.bounded(ctx)
	dataURL, err := d.page.Eval(evalCtx, canvasJS)
	cancel()
	if err != nil {
		return false, fmt.Errorf("erro capturando canvas: %w", err)
	}
	img, err := captcha.DecodeDataURL(dataURL)
	if err != nil {
		return false, err
	}

	offset, err := d.inferrer.InferOffset(ctx, img)
	if err != nil {
		return false, fmt.Errorf("erro inferindo offset: %w", err)
	}
	if !captcha.Plausible(offset, img.Bounds()) {
		d.saveSample(dataURL, offset, 0, attempt, img.Bounds().Dx(), img.Bounds().Dy())
		return false, fmt.Errorf("%w: %d (largura %d)", captcha.ErrImplausibleOffset, offset, img.Bounds().Dx())
	}

	distance := int(math.Round(float64(offset) * d.opts.Compensation))
	track := motion.Synthesize(distance, d.rng, d.opts.Motion)
	d.logger.Debug("arrastando slider", "offset", offset, "distance", distance, "steps", track.Len())

	dragCtx, cancel := d.bounded(ctx)
	err = d.page.Drag(dragCtx, selSlider, track)
	cancel()
	if err != nil {
		return false, fmt.Errorf("erro arrastando slider: %w", err)
	}

	if err := d.pause(ctx, 1); err != nil {
		return false, err
	}

	urlCtx, cancel := d.bounded(ctx)
	current, err := d.page.URL(urlCtx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("erro lendo url: %w", err)
	}
	if sameURL(current, d.opts.LoginURL) {
		d.saveSample(dataURL, offset, distance, attempt, img.Bounds().Dx(), img.Bounds().Dy())
		return false, nil
	}
	return true, nil
}

func (d *Driver) saveSample(dataURL string, offset, dragged, attempt, w, h int) {
	if !d.samples.Enabled() {
		return
	}
	raw, err := captcha.DataURLBytes(dataURL)
	if err != nil {
		return
	}
	id, err := d.samples.Save(raw, captcha.SampleLabel{
		Offset: offset, Dragged: dragged, Attempt: attempt, Width: w, Height: h,
	})
	if err != nil {
		d.logger.Warn("erro salvando sample do captcha", "err", err)
		return
	}
	d.logger.Debug("sample do captcha salvo", "id", id)
}

// sameURL compara ignorando query, fragmento e barra final.
func sameURL(a, b string) bool {
	return normalizeURL(a) == normalizeURL(b)
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	return strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}

func maskPhone(phone string) string {
	if len(phone) <= 3 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-3)
}
