package captcha

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SampleLabel é o JSON salvo ao lado de cada imagem coletada.
type SampleLabel struct {
	ID        string `json:"id"`
	Offset    int    `json:"offset"`
	Dragged   int    `json:"dragged"`
	Attempt   int    `json:"attempt"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Solved    bool   `json:"solved"`
	Timestamp string `json:"timestamp"`
}

// ShadowCollector guarda desafios em disco para retreinar o modelo depois.
// Diretório vazio desliga a coleta.
type ShadowCollector struct {
	dir string
	now func() time.Time
}

func NewShadowCollector(dir string) *ShadowCollector {
	return &ShadowCollector{dir: dir, now: time.Now}
}

func (c *ShadowCollector) Enabled() bool {
	return c != nil && c.dir != ""
}

// Save grava <id>_background.png e <id>_meta.json. Retorna o id do sample.
//
// Estrutura gerada:
//
//	<dir>/<unix_millis>_<uuid8>_background.png
//	<dir>/<unix_millis>_<uuid8>_meta.json
func (c *ShadowCollector) Save(png []byte, label SampleLabel) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("erro criando diretório dataset '%s': %w", c.dir, err)
	}

	now := c.now()
	// uuid evita colisão quando dois ciclos salvam no mesmo milissegundo
	id := fmt.Sprintf("%d_%s", now.UnixMilli(), uuid.New().String()[:8])

	imgPath := filepath.Join(c.dir, id+"_background.png")
	if err := os.WriteFile(imgPath, png, 0644); err != nil {
		return "", fmt.Errorf("erro salvando background: %w", err)
	}

	label.ID = id
	label.Timestamp = now.UTC().Format(time.RFC3339)
	meta, err := json.MarshalIndent(label, "", "  ")
	if err != nil {
		os.Remove(imgPath)
		return "", fmt.Errorf("erro serializando label: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, id+"_meta.json"), meta, 0644); err != nil {
		os.Remove(imgPath)
		return "", fmt.Errorf("erro salvando metadados: %w", err)
	}
	return id, nil
}
