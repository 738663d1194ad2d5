package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netgen/internal/generator"
	"github.com/roach88/netgen/internal/runlog"
)

func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd, out, errOut
}

// newTestOptions stubs out the system side effects so tests never touch
// the device daemon or the real run log.
func newTestOptions(root string) *GenerateOptions {
	return &GenerateOptions{
		RootOptions:     &RootOptions{Format: "text", RootDir: root},
		EnableService:   func(string) error { return nil },
		InvalidateCache: func() {},
		RecordRun:       func(string, runlog.Run) error { return nil },
	}
}

func writeSource(t *testing.T, root, dir, name, content string) string {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	path := filepath.Join(full, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readNetworkdUnit(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "run/systemd/network", name))
	require.NoError(t, err)
	return string(data)
}

func networkdUnitExists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, "run/systemd/network", name))
	return err == nil
}

const ethDHCPYAML = `network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
`

func TestGenerateTierPrecedence(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "lib/netplan", "config.yaml", `network:
  version: 2
  ethernets:
    vendor0:
      dhcp4: true
`)
	writeSource(t, root, "etc/netplan", "config.yaml", `network:
  version: 2
  ethernets:
    admin0:
      dhcp4: true
`)

	cmd, out, _ := newTestCommand()
	require.NoError(t, runGenerate(newTestOptions(root), nil, cmd))

	assert.True(t, networkdUnitExists(root, "10-netplan-admin0.network"))
	assert.False(t, networkdUnitExists(root, "10-netplan-vendor0.network"),
		"shadowed vendor file must not contribute")
	assert.Contains(t, out.String(), "from 1 source(s)")
}

func TestGenerateCrossTierOrdering(t *testing.T) {
	// Application order sorts by basename across tiers, so a later
	// sorting admin file overrides an earlier sorting runtime one.
	root := t.TempDir()
	writeSource(t, root, "run/netplan", "00-base.yaml", `network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
      mtu: 1500
`)
	writeSource(t, root, "etc/netplan", "99-override.yaml", `network:
  version: 2
  ethernets:
    eth0:
      mtu: 9000
`)

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(newTestOptions(root), nil, cmd))

	unit := readNetworkdUnit(t, root, "10-netplan-eth0.network")
	assert.Contains(t, unit, "MTUBytes=9000")
	assert.Contains(t, unit, "DHCP=ipv4", "fields the override omits survive the merge")
}

func TestGenerateDirectModeUsesArgumentOrder(t *testing.T) {
	// Explicit paths apply in the order given, not sorted.
	root := t.TempDir()
	early := writeSource(t, root, "configs", "z-last.yaml", `network:
  version: 2
  ethernets:
    eth0:
      mtu: 9000
`)
	late := writeSource(t, root, "configs", "a-first.yaml", `network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
      mtu: 1500
`)

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(newTestOptions(root), []string{early, late}, cmd))

	unit := readNetworkdUnit(t, root, "10-netplan-eth0.network")
	assert.Contains(t, unit, "MTUBytes=1500")
}

func TestGenerateEmptyInput(t *testing.T) {
	root := t.TempDir()

	cmd, out, _ := newTestCommand()
	require.NoError(t, runGenerate(newTestOptions(root), nil, cmd))

	assert.Contains(t, out.String(), "No configuration sources found")
	_, err := os.Stat(filepath.Join(root, "run/systemd/network"))
	assert.True(t, os.IsNotExist(err), "no backend output for an empty model")
}

func TestGenerateParseErrorFailsFast(t *testing.T) {
	root := t.TempDir()
	staleDir := filepath.Join(root, "run/systemd/network")
	require.NoError(t, os.MkdirAll(staleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staleDir, "10-netplan-old.network"), []byte("old"), 0o644))
	writeSource(t, root, "etc/netplan", "bad.yaml", `network:
  version: 2
  ethernets:
    eth0:
      dhpc4: true
`)

	cmd, _, _ := newTestCommand()
	err := runGenerate(newTestOptions(root), nil, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	parseErr, ok := asParseError(err)
	require.True(t, ok)
	assert.Contains(t, parseErr.File, "bad.yaml")

	assert.True(t, networkdUnitExists(root, "10-netplan-old.network"),
		"failed runs leave previous output untouched")
}

func TestGenerateCleanupRemovesStaleOutput(t *testing.T) {
	root := t.TempDir()
	networkdDir := filepath.Join(root, "run/systemd/network")
	nmDir := filepath.Join(root, "run/NetworkManager/system-connections")
	require.NoError(t, os.MkdirAll(networkdDir, 0o755))
	require.NoError(t, os.MkdirAll(nmDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(networkdDir, "10-netplan-gone.network"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(networkdDir, "20-admin.network"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nmDir, "netplan-gone"), []byte("old"), 0o600))
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(newTestOptions(root), nil, cmd))

	assert.False(t, networkdUnitExists(root, "10-netplan-gone.network"))
	assert.True(t, networkdUnitExists(root, "10-netplan-eth0.network"))
	assert.True(t, networkdUnitExists(root, "20-admin.network"),
		"files outside the owned prefix are preserved")
	_, err := os.Stat(filepath.Join(nmDir, "netplan-gone"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateManagedOutputInvalidatesDeviceCache(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)

	invalidations := 0
	opts := newTestOptions(root)
	opts.InvalidateCache = func() { invalidations++ }

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, nil, cmd))
	assert.Equal(t, 1, invalidations)
}

func TestGenerateIntegrationOnlyOutputSkipsCacheInvalidation(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", `network:
  version: 2
  renderer: NetworkManager
  ethernets:
    eth0:
      dhcp4: true
`)

	invalidations := 0
	opts := newTestOptions(root)
	opts.InvalidateCache = func() { invalidations++ }

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, nil, cmd))

	assert.Zero(t, invalidations)
	_, err := os.Stat(filepath.Join(root, "run/NetworkManager/system-connections/netplan-eth0"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "run/NetworkManager/conf.d/10-globally-managed-devices.conf"))
	assert.NoError(t, err, "global integration renderer lifts the default device policy")
}

func generatorArgs(t *testing.T) []string {
	t.Helper()
	base := t.TempDir()
	args := []string{
		filepath.Join(base, "early"),
		filepath.Join(base, "normal"),
		filepath.Join(base, "late"),
	}
	for _, dir := range args {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return args
}

func TestGenerateGeneratorModeEnablesServiceAndStamps(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)
	args := generatorArgs(t)

	var enabledIn []string
	opts := newTestOptions(root)
	opts.Generator = true
	opts.EnableService = func(unitDir string) error {
		enabledIn = append(enabledIn, unitDir)
		return nil
	}

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, args, cmd))

	assert.Equal(t, []string{args[0]}, enabledIn)
	assert.True(t, generator.StampExists(generator.StampPath(args[0])))
}

func TestGenerateGeneratorModeIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)
	args := generatorArgs(t)

	enablements := 0
	opts := newTestOptions(root)
	opts.Generator = true
	opts.EnableService = func(string) error {
		enablements++
		return nil
	}

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, args, cmd))
	require.Equal(t, 1, enablements)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "run/systemd/network")))

	cmd2, _, errOut := newTestCommand()
	require.NoError(t, runGenerate(opts, args, cmd2))

	assert.Equal(t, 1, enablements, "second invocation must do no work")
	assert.Contains(t, errOut.String(), "generation already ran")
	assert.False(t, networkdUnitExists(root, "10-netplan-eth0.network"),
		"second invocation must not regenerate output")
}

func TestGenerateGeneratorModeIntegrationOnlySkipsEnablement(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", `network:
  version: 2
  renderer: NetworkManager
  ethernets:
    eth0:
      dhcp4: true
`)
	args := generatorArgs(t)

	enablements := 0
	opts := newTestOptions(root)
	opts.Generator = true
	opts.EnableService = func(string) error {
		enablements++
		return nil
	}

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, args, cmd))

	assert.Zero(t, enablements)
	assert.True(t, generator.StampExists(generator.StampPath(args[0])),
		"the stamp records completion regardless of which backend produced output")
}

func TestGenerateGeneratorModeStampsEmptyRuns(t *testing.T) {
	root := t.TempDir()
	args := generatorArgs(t)

	opts := newTestOptions(root)
	opts.Generator = true

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, args, cmd))
	assert.True(t, generator.StampExists(generator.StampPath(args[0])))
}

func TestGenerateGeneratorModeRejectsWrongArity(t *testing.T) {
	root := t.TempDir()
	args := generatorArgs(t)

	for _, bad := range [][]string{args[:2], append(append([]string{}, args...), filepath.Join(root, "extra"))} {
		opts := newTestOptions(root)
		opts.Generator = true

		cmd, out, _ := newTestCommand()
		err := runGenerate(opts, bad, cmd)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out.String(), "exactly three")
		assert.False(t, generator.StampExists(generator.StampPath(bad[0])),
			"a rejected invocation must not mark the run complete")
	}
}

func TestGenerateJSONOutput(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)

	opts := newTestOptions(root)
	opts.Format = "json"

	cmd, out, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, nil, cmd))

	var resp struct {
		Status string          `json:"status"`
		Data   GenerateSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Sources)
	assert.Equal(t, 1, resp.Data.Definitions)
	assert.True(t, resp.Data.Managed)
	assert.NotEmpty(t, resp.Data.Fingerprint)
}

func TestGenerateRecordsRun(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)

	var recorded []runlog.Run
	opts := newTestOptions(root)
	opts.RecordRun = func(recordRoot string, run runlog.Run) error {
		assert.Equal(t, root, recordRoot)
		recorded = append(recorded, run)
		return nil
	}

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, nil, cmd))

	require.Len(t, recorded, 1)
	assert.Equal(t, 1, recorded[0].SourceCount)
	assert.Equal(t, 1, recorded[0].Definitions)
	assert.True(t, recorded[0].Managed)
	assert.NotEmpty(t, recorded[0].ID)
	assert.NotEmpty(t, recorded[0].Fingerprint)
}

func TestGenerateRunLogFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "etc/netplan", "a.yaml", ethDHCPYAML)

	opts := newTestOptions(root)
	opts.RecordRun = func(string, runlog.Run) error {
		return os.ErrPermission
	}

	cmd, _, _ := newTestCommand()
	require.NoError(t, runGenerate(opts, nil, cmd))
	assert.True(t, networkdUnitExists(root, "10-netplan-eth0.network"))
}
