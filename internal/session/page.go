package session

import (
	"context"
	"errors"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/motion"
)

var (
	// ErrNotActionable: o elemento existe mas não ficou visível/habilitado a tempo.
	ErrNotActionable = errors.New("elemento não está clicável")
	ErrNotFound      = errors.New("elemento não encontrado")
)

// Selector localiza um elemento por CSS ou XPath.
type Selector struct {
	XPath bool
	Query string
}

func CSS(q string) Selector   { return Selector{Query: q} }
func XPath(q string) Selector { return Selector{XPath: true, Query: q} }

func (s Selector) String() string {
	if s.XPath {
		return "xpath:" + s.Query
	}
	return "css:" + s.Query
}

// Page é tudo que o driver precisa de um browser.
//
// Toda chamada respeita o prazo de ctx; o driver sempre passa um contexto
// com timeout, então nenhuma espera é infinita.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)

	// Click espera o elemento ficar visível e habilitado antes de clicar.
	Click(ctx context.Context, sel Selector) error
	// Input digita no index-ésimo elemento que casa com sel.
	Input(ctx context.Context, sel Selector, index int, text string) error

	Text(ctx context.Context, sel Selector) (string, error)
	Texts(ctx context.Context, sel Selector) ([]string, error)
	HTML(ctx context.Context, sel Selector) (string, error)

	WaitVisible(ctx context.Context, sel Selector) error
	WaitText(ctx context.Context, sel Selector, substr string) error

	// Eval roda uma função JS e devolve o resultado como string.
	Eval(ctx context.Context, js string) (string, error)
	// Drag pressiona no centro de sel, executa o plano e solta.
	Drag(ctx context.Context, sel Selector, track motion.Track) error

	Close() error
}
