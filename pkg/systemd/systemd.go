// Package systemd shells out to systemctl for unit state checks.
package systemd

import (
	"context"
	"os/exec"
	"strings"
)

// IsActive reports whether the unit is currently active. systemctl exits
// non-zero for inactive units; that is a valid answer, not an error.
func IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", unit).CombinedOutput()
	state := strings.TrimSpace(string(out))
	if err != nil && state == "" {
		return false, err
	}
	return state == "active", nil
}
