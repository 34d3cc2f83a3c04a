//go:build !unix

package execout

import (
	"os/exec"

	"github.com/MrWong99/readaloud/pkg/audio"
)

func setProcessGroup(*exec.Cmd) {}

func suspendGroup(*exec.Cmd) error  { return audio.ErrPauseUnsupported }
func continueGroup(*exec.Cmd) error { return audio.ErrPauseUnsupported }

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
