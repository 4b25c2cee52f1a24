package browser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/Studyyyyt/sgcc-electricity-web/pkg/config"
)

// ProfilePrefix identifica pastas de perfil criadas por nós (o sweeper só toca nelas).
const ProfilePrefix = "sgcc_profile_"

// Instance é um Chromium dedicado a um ciclo, com perfil descartável.
type Instance struct {
	Browser    *rod.Browser
	profileDir string
	logger     *slog.Logger
}

// Launch sobe um browser novo com perfil temporário.
// Cada ciclo começa sem cookies, então o login sempre passa pelo captcha.
func Launch(cfg config.Browser, logger *slog.Logger) (*Instance, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.ProfileDir
	if base == "" {
		base = os.TempDir()
	}
	profileDir := filepath.Join(base, ProfilePrefix+uuid.NewString()[:8])
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return nil, fmt.Errorf("erro criando perfil %s: %w", profileDir, err)
	}

	path := cfg.Bin
	if path == "" {
		path, _ = launcher.LookPath()
	}

	l := launcher.New().
		Bin(path).
		UserDataDir(profileDir).
		Leakless(false).
		Set("use-gl", "swiftshader"). // Software rendering para containers
		Set("disable-gpu").
		Set("window-size", "1920,1080").
		Set("no-sandbox") // Necessário em containers Linux

	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false) // Para desenvolvimento/VNC
	}

	u, err := l.Launch()
	if err != nil {
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("erro ao iniciar browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("erro conectando ao browser: %w", err)
	}

	// Monitor para debug remoto
	if cfg.MonitorAddr != "" {
		go b.ServeMonitor(cfg.MonitorAddr)
	}

	logger.Debug("browser iniciado", "profile", profileDir, "headless", cfg.Headless)
	return &Instance{Browser: b, profileDir: profileDir, logger: logger}, nil
}

// NewPage abre uma aba já mascarada pelo stealth.
func (i *Instance) NewPage() (*rod.Page, error) {
	page, err := stealth.Page(i.Browser)
	if err != nil {
		return nil, fmt.Errorf("erro criando página stealth: %w", err)
	}
	return page, nil
}

// Close encerra o browser e apaga o perfil.
func (i *Instance) Close() error {
	err := i.Browser.Close()
	if rmErr := os.RemoveAll(i.profileDir); rmErr != nil {
		i.logger.Warn("erro removendo perfil", "profile", i.profileDir, "err", rmErr)
	}
	if err != nil {
		return fmt.Errorf("erro fechando browser: %w", err)
	}
	return nil
}
