package auth

import (
	"os/exec"
	"runtime"

	"github.com/cockroachdb/errors"
)

var getRuntime = func() string { return runtime.GOOS }

// OpenBrowser opens the default system browser to the specified URL.
//
// Supports macOS, Linux, and Windows platforms.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	rt := getRuntime()
	switch rt {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return errors.Newf("unsupported platform: %s", rt)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to open browser")
	}
	go func() { _ = cmd.Wait() }()

	return nil
}
