//go:build !unix

package ffmpeg

import "os/exec"

// setProcessGroup keeps the default cancellation, which kills only the
// encoder process itself.
func setProcessGroup(*exec.Cmd) {}
