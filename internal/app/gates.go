package app

import (
	"context"
	"strings"

	"alertbot/internal/config"
	"alertbot/internal/engine"
	logx "alertbot/pkg/logx"
	"alertbot/pkg/systemd"
)

// buildGates assembles the external pre-pipeline checks. Currently one:
// gated-category events are dropped while the configured systemd unit is
// inactive, so intentional downtime never pages anyone.
func buildGates(cfg config.EngineConfig, log logx.Logger) []engine.Gate {
	if cfg.GateUnit == "" || cfg.GatedCategory == "" {
		return nil
	}
	unit := cfg.GateUnit
	category := cfg.GatedCategory
	return []engine.Gate{engine.GateFunc(func(ctx context.Context, ev engine.Event) (bool, string) {
		if !strings.EqualFold(ev.Category, category) {
			return true, ""
		}
		active, err := systemd.IsActive(ctx, unit)
		if err != nil {
			// Fail open: a broken check must not silence real alerts.
			log.Warn("unit gate check failed", logx.String("unit", unit), logx.Err(err))
			return true, ""
		}
		if active {
			return true, ""
		}
		return false, "unit_inactive"
	})}
}
