// Package generator implements the re-entrant generator calling
// convention: run-once-per-boot via a stamp file, plus the system side
// effects a successful generation triggers.
package generator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// StampName is the marker created after a successful generator-mode
// run. Its presence means this boot cycle's generation already
// completed; removal is an operator action, never ours.
const StampName = "netplan.stamp"

// managedServiceUnit is the service the managed backend's output
// depends on.
const managedServiceUnit = "systemd-networkd.service"

// managedServiceTarget is the installed unit the enablement symlink
// points at.
const managedServiceTarget = "/lib/systemd/system/" + managedServiceUnit

// StampPath derives the stamp location from the generator's first
// positional directory argument.
func StampPath(dir string) string {
	return filepath.Join(dir, StampName)
}

// StampExists reports whether the stamp is present. Only existence
// matters; the file is zero bytes.
func StampExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteStamp creates (or truncates) the zero-byte stamp. This is the
// last action of a successful generator run; failure here is fatal
// because silently succeeding without the stamp would break the
// re-entrancy guarantee on the next invocation.
func WriteStamp(path string) error {
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("writing stamp %s: %w", path, err)
	}
	return nil
}

// EnableService makes the managed backend's service start on this boot
// by linking it into the wants directory of the generator's early
// generation dir. An already-present link is fine.
func EnableService(unitDir string) error {
	wants := filepath.Join(unitDir, "multi-user.target.wants")
	if err := os.MkdirAll(wants, 0o755); err != nil {
		return fmt.Errorf("creating wants directory: %w", err)
	}
	link := filepath.Join(wants, managedServiceUnit)
	if err := os.Symlink(managedServiceTarget, link); err != nil && !os.IsExist(err) {
		return fmt.Errorf("enabling %s: %w", managedServiceUnit, err)
	}
	return nil
}

// InvalidateDeviceCache asks the running udev daemon to reload its
// configuration so just-written rule files take effect without waiting
// for its normal invalidation interval. Best-effort: failures are
// swallowed.
func InvalidateDeviceCache() {
	cmd := exec.Command("udevadm", "control", "--reload")
	cmd.Stdout = nil
	cmd.Stderr = nil
	_ = cmd.Run()
}
