package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSolverSubject é o tópico do serviço Vision.
const DefaultSolverSubject = "jobs.captcha.slider"

// Requester é o pedaço de *nats.Conn usado aqui.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type solveRequest struct {
	BackgroundB64 string `json:"background_b64"`
	PieceB64      string `json:"piece_b64,omitempty"`
}

type solveResponse struct {
	XOffset    float64 `json:"x_offset"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

// RemoteInferrer delega a inferência ao serviço Vision via NATS request/reply.
type RemoteInferrer struct {
	nc      Requester
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRemoteInferrer(nc Requester, subject string, timeout time.Duration, logger *slog.Logger) *RemoteInferrer {
	if subject == "" {
		subject = DefaultSolverSubject
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteInferrer{nc: nc, subject: subject, timeout: timeout, logger: logger}
}

func (r *RemoteInferrer) InferOffset(ctx context.Context, img image.Image) (int, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("erro codificando background: %w", err)
	}
	payload, err := json.Marshal(solveRequest{BackgroundB64: base64.StdEncoding.EncodeToString(buf.Bytes())})
	if err != nil {
		return 0, fmt.Errorf("erro serializando payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg, err := r.nc.RequestWithContext(ctx, r.subject, payload)
	if err != nil {
		return 0, fmt.Errorf("%w: erro na requisição NATS: %v", ErrSolverUnavailable, err)
	}

	var resp solveResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return 0, fmt.Errorf("erro parseando resposta do Vision: %w", err)
	}
	if !resp.Success {
		return 0, fmt.Errorf("%w: %s", ErrSolverUnavailable, resp.Error)
	}

	if resp.Confidence < 0.5 {
		r.logger.Warn("confiança baixa no offset remoto", "x_offset", resp.XOffset, "confidence", resp.Confidence)
	}
	return int(math.Round(resp.XOffset)), nil
}
