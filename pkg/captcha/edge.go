package captcha

import (
	"context"
	"image"
	"image/color"
)

// EdgeInferrer localiza a lacuna pela borda esquerda mais forte.
//
// O slide-verify do portal desenha a lacuna como uma região clareada com
// contorno branco, então a coluna onde a luminância mais sobe da esquerda
// para a direita é a borda esquerda do encaixe.
type EdgeInferrer struct {
	// MinMargin ignora as primeiras colunas, onde fica a peça antes do arrasto.
	MinMargin int
	// Threshold descarta variações pequenas (ruído de compressão).
	Threshold int
}

// NewEdgeInferrer usa o threshold padrão.
func NewEdgeInferrer(minMargin int) *EdgeInferrer {
	return &EdgeInferrer{MinMargin: minMargin, Threshold: 12}
}

func (e *EdgeInferrer) InferOffset(ctx context.Context, img image.Image) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b := img.Bounds()
	if b.Empty() {
		return 0, ErrEmptyImage
	}

	w, h := b.Dx(), b.Dy()
	lum := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			lum[y*w+x] = int(g.Y)
		}
	}

	start := e.MinMargin
	if start < 1 {
		start = 1
	}

	best, bestScore := 0, 0
	for x := start; x < w; x++ {
		score := 0
		for y := 0; y < h; y++ {
			d := lum[y*w+x] - lum[y*w+x-1]
			if d > e.Threshold {
				score += d
			}
		}
		if score > bestScore {
			best, bestScore = x, score
		}
	}
	return best, nil
}
