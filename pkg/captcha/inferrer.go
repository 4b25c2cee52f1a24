package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"regexp"
)

var (
	ErrImplausibleOffset = errors.New("offset fora da imagem do desafio")
	ErrEmptyImage        = errors.New("imagem do desafio vazia")
	ErrSolverUnavailable = errors.New("solver de captcha indisponível")
)

// Inferrer estima em pixels, a partir da borda esquerda da imagem de fundo,
// onde fica a lacuna do quebra-cabeça.
//
// Para uma mesma imagem o resultado é determinístico. Confiança baixa ainda
// retorna um valor; erro só em falha de I/O ou de runtime.
type Inferrer interface {
	InferOffset(ctx context.Context, img image.Image) (int, error)
}

// InferrerFunc adapta uma função comum.
type InferrerFunc func(ctx context.Context, img image.Image) (int, error)

func (f InferrerFunc) InferOffset(ctx context.Context, img image.Image) (int, error) {
	return f(ctx, img)
}

// Plausible rejeita offsets que não podem ser uma lacuna real.
func Plausible(offset int, bounds image.Rectangle) bool {
	return offset > 0 && offset < bounds.Dx()
}

var dataURLPrefix = regexp.MustCompile(`^data:image/[^;]+;base64,`)

// DecodeDataURL decodifica o retorno de canvas.toDataURL.
func DecodeDataURL(s string) (image.Image, error) {
	raw, err := DataURLBytes(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("erro decodificando imagem: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// DataURLBytes retorna os bytes crus (PNG) de um data URL.
func DataURLBytes(s string) ([]byte, error) {
	payload := dataURLPrefix.ReplaceAllString(s, "")
	if payload == "" {
		return nil, ErrEmptyImage
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("erro decodificando base64: %w", err)
	}
	return raw, nil
}

// Fallback tenta Primary e recorre a Secondary quando Primary falha ou
// devolve um offset implausível.
type Fallback struct {
	Primary   Inferrer
	Secondary Inferrer
	Logger    *slog.Logger
}

func (f *Fallback) InferOffset(ctx context.Context, img image.Image) (int, error) {
	offset, err := f.Primary.InferOffset(ctx, img)
	if err == nil && Plausible(offset, img.Bounds()) {
		return offset, nil
	}
	if f.Secondary == nil {
		if err != nil {
			return 0, err
		}
		return offset, nil
	}

	if f.Logger != nil {
		f.Logger.Warn("primary solver falhou, usando fallback", "offset", offset, "err", err)
	}
	return f.Secondary.InferOffset(ctx, img)
}
