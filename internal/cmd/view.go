package cmd

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyatlas/hipscore/internal/viewer"
)

func runView(cmd *cobra.Command, args []string) error {
	cfg := viewer.Config{
		ServiceURL:   viper.GetString("service-url"),
		CacheBudget:  viper.GetInt64("cache-budget"),
		PoolWorkers:  viper.GetInt64("workers"),
		ScreenWidth:  viper.GetInt("width"),
		ScreenHeight: viper.GetInt("height"),
	}

	logger.Info("starting hipsviewer",
		"service_url", cfg.ServiceURL,
		"width", cfg.ScreenWidth,
		"height", cfg.ScreenHeight,
		"workers", cfg.PoolWorkers,
	)

	v := viewer.New(cfg)

	ebiten.SetWindowSize(cfg.ScreenWidth, cfg.ScreenHeight)
	ebiten.SetWindowTitle("hipsviewer")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	return ebiten.RunGame(v)
}
