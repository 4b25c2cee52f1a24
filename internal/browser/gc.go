package browser

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const orphanProfileTTL = 90 * time.Minute

// StartProfileSweeper periodicamente remove pastas de perfil que ficaram para
// trás após um crash ou um Close que não rodou. Bloqueia até ctx terminar.
func StartProfileSweeper(ctx context.Context, baseDir string, interval time.Duration, logger *slog.Logger) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	logger.Info("[GC] iniciando profile sweeper", "dir", baseDir)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOrphanProfiles(baseDir, orphanProfileTTL, logger)
		}
	}
}

// sweepOrphanProfiles contém a lógica principal isolada para facilitar testes unitários
func sweepOrphanProfiles(baseDir string, ttl time.Duration, logger *slog.Logger) int {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Warn("[GC] erro lendo diretório base", "dir", baseDir, "err", err)
		return 0
	}

	removedCount := 0
	now := time.Now()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, ProfilePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) > ttl {
			fullPath := filepath.Join(baseDir, name)
			if err := os.RemoveAll(fullPath); err != nil {
				logger.Warn("[GC] erro removendo perfil órfão", "path", fullPath, "err", err)
			} else {
				removedCount++
			}
		}
	}

	if removedCount > 0 {
		logger.Info("[GC] perfis órfãos removidos", "count", removedCount)
	}
	return removedCount
}
