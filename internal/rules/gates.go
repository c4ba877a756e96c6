package rules

import (
	"fmt"
	"strings"

	"killsense/internal/model"
)

// CheckGates applies require_all and require_any over scored categories. A
// category that is missing, disabled or unconfigured never satisfies a gate.
func CheckGates(cfg model.RulesConfig, cats map[string]model.CategoryScore) (bool, string) {
	for _, name := range cfg.RequireAll {
		c, ok := cats[name]
		switch {
		case !ok || !c.IsConfigured():
			return false, fmt.Sprintf("require_all: %s not configured", name)
		case !c.IsEnabled():
			return false, fmt.Sprintf("require_all: %s disabled", name)
		case !c.IsMatch():
			return false, fmt.Sprintf("require_all: %s did not match (%.2f)", name, c.PenalizedScore())
		}
	}
	if len(cfg.RequireAny) == 0 {
		return true, ""
	}
	for _, name := range cfg.RequireAny {
		if c, ok := cats[name]; ok && c.Active() && c.IsMatch() {
			return true, ""
		}
	}
	return false, "require_any: none of " + strings.Join(cfg.RequireAny, ", ") + " matched"
}
