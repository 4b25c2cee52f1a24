package captcha

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// ONNXConfig descreve o modelo detector da lacuna.
//
// O modelo é um detector estilo YOLO: entrada NCHW float32 quadrada e saída
// [1, Rows, RowWidth] com linhas (cx, cy, w, h, obj, cls...).
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputSize   int
	Rows        int
	RowWidth    int
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if c.InputSize <= 0 {
		c.InputSize = 416
	}
	if c.Rows <= 0 {
		c.Rows = 10647
	}
	if c.RowWidth <= 0 {
		c.RowWidth = 6
	}
	return c
}

// ONNXInferrer roda o modelo localmente via onnxruntime.
// Uma sessão é reutilizada entre chamadas; Run não é reentrante, então as
// chamadas são serializadas.
type ONNXInferrer struct {
	cfg     ONNXConfig
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var ortInit sync.Once
var ortInitErr error

func initRuntime(libPath string) error {
	ortInit.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// NewONNXInferrer carrega o modelo. Chame Close ao final.
func NewONNXInferrer(cfg ONNXConfig) (*ONNXInferrer, error) {
	cfg = cfg.withDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model_path vazio", ErrSolverUnavailable)
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("erro inicializando onnxruntime: %w", err)
	}

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("erro criando tensor de entrada: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Rows), int64(cfg.RowWidth)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("erro criando tensor de saída: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("erro carregando modelo %s: %w", cfg.ModelPath, err)
	}

	return &ONNXInferrer{cfg: cfg, session: session, input: input, output: output}, nil
}

func (o *ONNXInferrer) InferOffset(ctx context.Context, img image.Image) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b := img.Bounds()
	if b.Empty() {
		return 0, ErrEmptyImage
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	fillTensor(o.input.GetData(), img, o.cfg.InputSize)
	if err := o.session.Run(); err != nil {
		return 0, fmt.Errorf("erro executando modelo: %w", err)
	}

	left, ok := bestBoxLeft(o.output.GetData(), o.cfg.RowWidth)
	if !ok {
		return 0, nil
	}
	scale := float64(b.Dx()) / float64(o.cfg.InputSize)
	return int(left*scale + 0.5), nil
}

func (o *ONNXInferrer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var firstErr error
	for _, destroy := range []func() error{o.session.Destroy, o.input.Destroy, o.output.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fillTensor redimensiona para size x size e grava RGB normalizado em NCHW.
func fillTensor(dst []float32, img image.Image, size int) {
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := resized.PixOffset(x, y)
			p := y*size + x
			dst[p] = float32(resized.Pix[i]) / 255
			dst[plane+p] = float32(resized.Pix[i+1]) / 255
			dst[2*plane+p] = float32(resized.Pix[i+2]) / 255
		}
	}
}

// bestBoxLeft devolve a borda esquerda (cx - w/2) da linha de maior score.
func bestBoxLeft(rows []float32, width int) (float64, bool) {
	if width < 5 {
		return 0, false
	}
	best := -1
	var bestScore float32
	for i := 0; i+width <= len(rows); i += width {
		score := rows[i+4]
		if width > 5 {
			var cls float32
			for _, c := range rows[i+5 : i+width] {
				if c > cls {
					cls = c
				}
			}
			score *= cls
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return 0, false
	}
	left := float64(rows[best] - rows[best+2]/2)
	if left < 0 {
		left = 0
	}
	return left, true
}
