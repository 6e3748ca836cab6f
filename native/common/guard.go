package common

import (
	"errors"
	"fmt"
)

var ErrModulePaused = errors.New("native: module paused")

// PauseView exposes the pause switch of one or more native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is paused in p.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
