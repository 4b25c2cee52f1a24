package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/browser"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/fetcher"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/session"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/config"
)

// BrowserSessionFactory sobe um Chromium novo por ciclo e devolve o driver
// dono dele: fechar a sessão fecha a página, o browser e apaga o perfil.
func BrowserSessionFactory(cfg *config.Config, deps session.Deps, logger *slog.Logger) fetcher.SessionFactory {
	return func(ctx context.Context) (fetcher.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inst, err := browser.Launch(cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		page, err := inst.NewPage()
		if err != nil {
			return nil, errors.Join(err, inst.Close())
		}

		if deps.Logger == nil {
			deps.Logger = logger
		}
		d := session.NewDriver(session.NewRodPage(page), session.OptionsFromConfig(cfg.Electricity), deps)
		d.OnClose(inst.Close)
		return d, nil
	}
}
