package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/motion"
)

// RodPage implementa Page sobre uma aba do go-rod.
type RodPage struct {
	page *rod.Page
}

func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

func (r *RodPage) find(ctx context.Context, sel Selector) (*rod.Element, error) {
	p := r.page.Context(ctx)
	var (
		el  *rod.Element
		err error
	)
	if sel.XPath {
		el, err = p.ElementX(sel.Query)
	} else {
		el, err = p.Element(sel.Query)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, sel, err)
	}
	return el, nil
}

func (r *RodPage) findAll(ctx context.Context, sel Selector) (rod.Elements, error) {
	// Elements não espera; garante primeiro que ao menos um existe
	if _, err := r.find(ctx, sel); err != nil {
		return nil, err
	}
	p := r.page.Context(ctx)
	if sel.XPath {
		return p.ElementsX(sel.Query)
	}
	return p.Elements(sel.Query)
}

func (r *RodPage) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("erro navegando para %s: %w", url, err)
	}
	return p.WaitLoad()
}

func (r *RodPage) Reload(ctx context.Context) error {
	p := r.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("erro recarregando página: %w", err)
	}
	return p.WaitLoad()
}

func (r *RodPage) URL(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (r *RodPage) Click(ctx context.Context, sel Selector) error {
	el, err := r.find(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotActionable, sel, err)
	}
	if err := el.WaitEnabled(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotActionable, sel, err)
	}
	// click via JS, igual ao portal espera; evita overlays do element-ui interceptarem o evento
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("erro clicando %s: %w", sel, err)
	}
	return nil
}

func (r *RodPage) Input(ctx context.Context, sel Selector, index int, text string) error {
	els, err := r.findAll(ctx, sel)
	if err != nil {
		return err
	}
	if index >= len(els) {
		return fmt.Errorf("%w: %s[%d] (só existem %d)", ErrNotFound, sel, index, len(els))
	}
	return els[index].Input(text)
}

func (r *RodPage) Text(ctx context.Context, sel Selector) (string, error) {
	el, err := r.find(ctx, sel)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (r *RodPage) Texts(ctx context.Context, sel Selector) ([]string, error) {
	els, err := r.findAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

func (r *RodPage) HTML(ctx context.Context, sel Selector) (string, error) {
	el, err := r.find(ctx, sel)
	if err != nil {
		return "", err
	}
	return el.HTML()
}

func (r *RodPage) WaitVisible(ctx context.Context, sel Selector) error {
	el, err := r.find(ctx, sel)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (r *RodPage) WaitText(ctx context.Context, sel Selector, substr string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if el, err := r.find(ctx, sel); err == nil {
			if text, err := el.Text(); err == nil && strings.Contains(text, substr) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: texto %q em %s: %v", ErrNotFound, substr, sel, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *RodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := r.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Drag arrasta o slider seguindo o plano de movimento.
func (r *RodPage) Drag(ctx context.Context, sel Selector, track motion.Track) error {
	el, err := r.find(ctx, sel)
	if err != nil {
		return err
	}
	shape, err := el.Shape()
	if err != nil {
		return fmt.Errorf("erro obtendo posição do slider: %w", err)
	}
	if len(shape.Quads) == 0 {
		return fmt.Errorf("slider não tem dimensões válidas")
	}

	// centro do primeiro quad
	quad := shape.Quads[0]
	x := (quad[0] + quad[2]) / 2
	y := (quad[1] + quad[5]) / 2

	mouse := r.page.Context(ctx).Mouse
	if err := mouse.MoveLinear(proto.Point{X: x, Y: y}, 5); err != nil {
		return fmt.Errorf("erro movendo mouse: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("erro pressionando mouse: %w", err)
	}

	for _, step := range track.Steps {
		x += float64(step.DX)
		y += float64(step.DY)
		if err := mouse.MoveLinear(proto.Point{X: x, Y: y}, 1); err != nil {
			mouse.Up(proto.InputMouseButtonLeft, 1) // Garante que solta o mouse mesmo se houver erro
			return fmt.Errorf("erro movendo mouse: %w", err)
		}
		if err := sleepCtx(ctx, step.Delay); err != nil {
			mouse.Up(proto.InputMouseButtonLeft, 1)
			return err
		}
	}

	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("erro soltando mouse: %w", err)
	}
	return nil
}

func (r *RodPage) Close() error {
	return r.page.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
