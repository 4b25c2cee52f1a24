package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// challenge desenha um fundo com textura leve e uma lacuna clareada em gapX.
func challenge(w, h, gapX, gapW int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(60 + (x*7+y*3)%9)
			img.Set(x, y, color.RGBA{v, v + 10, v + 20, 255})
		}
	}
	for y := h / 4; y < h/4+gapW; y++ {
		for x := gapX; x < gapX+gapW; x++ {
			img.Set(x, y, color.RGBA{220, 220, 220, 255})
		}
	}
	return img
}

func toDataURL(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestEdgeInferrerFindsGap(t *testing.T) {
	inf := NewEdgeInferrer(10)
	for _, gap := range []int{45, 120, 233} {
		img := challenge(310, 155, gap, 42)
		offset, err := inf.InferOffset(context.Background(), img)
		require.NoError(t, err)
		require.Equal(t, gap, offset)
		require.True(t, Plausible(offset, img.Bounds()))
	}
}

func TestEdgeInferrerDeterministic(t *testing.T) {
	img := challenge(310, 155, 150, 40)
	inf := NewEdgeInferrer(10)
	first, err := inf.InferOffset(context.Background(), img)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := inf.InferOffset(context.Background(), img)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestEdgeInferrerFlatImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	offset, err := NewEdgeInferrer(10).InferOffset(context.Background(), img)
	require.NoError(t, err)
	require.Zero(t, offset)
	require.False(t, Plausible(offset, img.Bounds()))
}

func TestPlausible(t *testing.T) {
	b := image.Rect(0, 0, 300, 150)
	require.False(t, Plausible(0, b))
	require.False(t, Plausible(-3, b))
	require.False(t, Plausible(300, b))
	require.True(t, Plausible(299, b))
}

func TestDecodeDataURL(t *testing.T) {
	src := challenge(64, 32, 20, 10)
	img, err := DecodeDataURL(toDataURL(t, src))
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), img.Bounds())

	_, err = DecodeDataURL("data:image/png;base64,")
	require.ErrorIs(t, err, ErrEmptyImage)

	_, err = DecodeDataURL("data:image/png;base64,%%%")
	require.Error(t, err)
}

func TestFallback(t *testing.T) {
	img := challenge(200, 100, 80, 30)
	failing := InferrerFunc(func(context.Context, image.Image) (int, error) {
		return 0, errors.New("runtime crashed")
	})
	implausible := InferrerFunc(func(context.Context, image.Image) (int, error) {
		return 900, nil
	})
	fixed := InferrerFunc(func(context.Context, image.Image) (int, error) {
		return 77, nil
	})

	got, err := (&Fallback{Primary: failing, Secondary: fixed}).InferOffset(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, 77, got)

	got, err = (&Fallback{Primary: implausible, Secondary: fixed}).InferOffset(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, 77, got)

	got, err = (&Fallback{Primary: fixed, Secondary: failing}).InferOffset(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, 77, got)

	_, err = (&Fallback{Primary: failing}).InferOffset(context.Background(), img)
	require.Error(t, err)
}

type fakeRequester struct {
	subject string
	request solveRequest
	reply   any
	err     error
}

func (f *fakeRequester) RequestWithContext(_ context.Context, subj string, data []byte) (*nats.Msg, error) {
	f.subject = subj
	if err := json.Unmarshal(data, &f.request); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	raw, _ := json.Marshal(f.reply)
	return &nats.Msg{Subject: subj, Data: raw}, nil
}

func TestRemoteInferrer(t *testing.T) {
	img := challenge(120, 60, 40, 20)
	nc := &fakeRequester{reply: solveResponse{XOffset: 41.6, Success: true, Confidence: 0.93}}

	offset, err := NewRemoteInferrer(nc, "", 0, nil).InferOffset(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, 42, offset)
	require.Equal(t, DefaultSolverSubject, nc.subject)

	raw, err := base64.StdEncoding.DecodeString(nc.request.BackgroundB64)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestRemoteInferrerFailures(t *testing.T) {
	img := challenge(120, 60, 40, 20)

	nc := &fakeRequester{reply: solveResponse{Success: false, Error: "model not loaded"}}
	_, err := NewRemoteInferrer(nc, "custom.subject", 0, nil).InferOffset(context.Background(), img)
	require.ErrorIs(t, err, ErrSolverUnavailable)
	require.Contains(t, err.Error(), "model not loaded")
	require.Equal(t, "custom.subject", nc.subject)

	nc = &fakeRequester{err: nats.ErrNoResponders}
	_, err = NewRemoteInferrer(nc, "", 0, nil).InferOffset(context.Background(), img)
	require.ErrorIs(t, err, ErrSolverUnavailable)
}

func TestBestBoxLeft(t *testing.T) {
	rows := []float32{
		100, 50, 40, 40, 0.2, 0.9,
		210, 52, 44, 44, 0.95, 0.9,
		10, 10, 30, 30, 0.5, 0.1,
	}
	left, ok := bestBoxLeft(rows, 6)
	require.True(t, ok)
	require.InDelta(t, 188.0, left, 0.001)

	_, ok = bestBoxLeft([]float32{1, 2, 3, 4, 0, 0}, 6)
	require.False(t, ok)
}

func TestFillTensorLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{255, 0, 51, 255})
		}
	}
	dst := make([]float32, 3*4*4)
	fillTensor(dst, img, 4)
	require.InDelta(t, 1.0, dst[0], 0.01)
	require.InDelta(t, 0.0, dst[16], 0.01)
	require.InDelta(t, 0.2, dst[32], 0.01)
}

func TestShadowCollectorSave(t *testing.T) {
	dir := t.TempDir()
	c := NewShadowCollector(dir)
	require.True(t, c.Enabled())

	id, err := c.Save([]byte("png-bytes"), SampleLabel{Offset: 120, Dragged: 127, Attempt: 2, Width: 310, Height: 155})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	img, err := os.ReadFile(filepath.Join(dir, id+"_background.png"))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(img))

	raw, err := os.ReadFile(filepath.Join(dir, id+"_meta.json"))
	require.NoError(t, err)
	var label SampleLabel
	require.NoError(t, json.Unmarshal(raw, &label))
	require.Equal(t, id, label.ID)
	require.Equal(t, 127, label.Dragged)
	require.NotEmpty(t, label.Timestamp)
	require.True(t, strings.Contains(id, "_"))
}

func TestShadowCollectorDisabled(t *testing.T) {
	id, err := NewShadowCollector("").Save([]byte("x"), SampleLabel{})
	require.NoError(t, err)
	require.Empty(t, id)

	var nilCollector *ShadowCollector
	require.False(t, nilCollector.Enabled())
}
