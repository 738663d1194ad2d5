package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/netgen/internal/model"
)

// networkdDir is where generated units live, relative to the root.
const networkdDir = "run/systemd/network"

// unitPrefix keeps generated files distinguishable from units owned by
// the administrator, so cleanup only ever touches our own output.
const unitPrefix = "10-netplan-"

// NetworkdWriter renders definitions into systemd-networkd units. It
// is the service-managed backend: its output is inert until
// systemd-networkd runs, which is why its writes feed the aggregate
// flag.
type NetworkdWriter struct{}

func NewNetworkdWriter() *NetworkdWriter {
	return &NetworkdWriter{}
}

func (w *NetworkdWriter) Name() string { return "networkd" }

func (w *NetworkdWriter) ManagedService() bool { return true }

// Write emits the .network unit (and .netdev for virtual devices) for
// one definition. Definitions rendered by the integration backend
// produce no output here.
func (w *NetworkdWriter) Write(def *model.Definition, root string) (bool, error) {
	if def.EffectiveRenderer != model.RendererNetworkd {
		return false, nil
	}

	dir := filepath.Join(root, networkdDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	if def.Kind.IsVirtual() {
		path := filepath.Join(dir, unitPrefix+def.ID+".netdev")
		if err := os.WriteFile(path, []byte(renderNetdev(def)), 0o644); err != nil {
			return false, err
		}
	}

	path := filepath.Join(dir, unitPrefix+def.ID+".network")
	if err := os.WriteFile(path, []byte(renderNetwork(def)), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// WriteRoute emits one unit per global route. Global routing is owned
// by networkd regardless of the global renderer.
func (w *NetworkdWriter) WriteRoute(route *model.Route, root string) (bool, error) {
	var b strings.Builder
	b.WriteString("[Route]\n")
	fmt.Fprintf(&b, "Destination=%s\n", route.To)
	if route.Via != "" {
		fmt.Fprintf(&b, "Gateway=%s\n", route.Via)
	}
	if route.Metric > 0 {
		fmt.Fprintf(&b, "Metric=%d\n", route.Metric)
	}
	name := unitPrefix + "route-" + sanitizeName(route.Key()) + ".network"
	return w.writeUnit(root, name, b.String())
}

// WriteRule emits one unit per global policy-routing rule.
func (w *NetworkdWriter) WriteRule(rule *model.Rule, root string) (bool, error) {
	var b strings.Builder
	b.WriteString("[RoutingPolicyRule]\n")
	if rule.From != "" {
		fmt.Fprintf(&b, "From=%s\n", rule.From)
	}
	if rule.To != "" {
		fmt.Fprintf(&b, "To=%s\n", rule.To)
	}
	if rule.Table > 0 {
		fmt.Fprintf(&b, "Table=%d\n", rule.Table)
	}
	if rule.Priority > 0 {
		fmt.Fprintf(&b, "Priority=%d\n", rule.Priority)
	}
	name := unitPrefix + "rule-" + sanitizeName(rule.Key()) + ".network"
	return w.writeUnit(root, name, b.String())
}

func (w *NetworkdWriter) writeUnit(root, name, content string) (bool, error) {
	dir := filepath.Join(root, networkdDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup removes generated units from a previous run. Units without
// our prefix are left alone.
func (w *NetworkdWriter) Cleanup(root string) error {
	matches, err := filepath.Glob(filepath.Join(root, networkdDir, unitPrefix+"*"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

func (w *NetworkdWriter) Finish(root string) error { return nil }

// renderNetwork produces the .network unit body for a definition.
// Sections and keys are emitted in a fixed order so output is
// byte-stable across runs.
func renderNetwork(def *model.Definition) string {
	var b strings.Builder

	b.WriteString("[Match]\n")
	switch {
	case def.Kind.IsVirtual(), def.Match.Empty():
		fmt.Fprintf(&b, "Name=%s\n", def.ID)
	default:
		if def.Match.Name != "" {
			fmt.Fprintf(&b, "Name=%s\n", def.Match.Name)
		}
		if def.Match.MACAddress != "" {
			fmt.Fprintf(&b, "MACAddress=%s\n", def.Match.MACAddress)
		}
		if def.Match.Driver != "" {
			fmt.Fprintf(&b, "Driver=%s\n", def.Match.Driver)
		}
	}

	if def.MTU > 0 || def.MACAddress != "" {
		b.WriteString("\n[Link]\n")
		if def.MACAddress != "" {
			fmt.Fprintf(&b, "MACAddress=%s\n", def.MACAddress)
		}
		if def.MTU > 0 {
			fmt.Fprintf(&b, "MTUBytes=%d\n", def.MTU)
		}
	}

	var lines []string
	switch {
	case def.DHCP4 && def.DHCP6:
		lines = append(lines, "DHCP=yes")
	case def.DHCP4:
		lines = append(lines, "DHCP=ipv4")
	case def.DHCP6:
		lines = append(lines, "DHCP=ipv6")
	}
	for _, addr := range def.Addresses {
		lines = append(lines, "Address="+addr)
	}
	if def.Gateway4 != "" {
		lines = append(lines, "Gateway="+def.Gateway4)
	}
	if def.Gateway6 != "" {
		lines = append(lines, "Gateway="+def.Gateway6)
	}
	for _, ns := range def.Nameservers.Addresses {
		lines = append(lines, "DNS="+ns)
	}
	if len(def.Nameservers.Search) > 0 {
		lines = append(lines, "Domains="+strings.Join(def.Nameservers.Search, " "))
	}
	if def.BridgeOf != "" {
		lines = append(lines, "Bridge="+def.BridgeOf)
	}
	if def.BondOf != "" {
		lines = append(lines, "Bond="+def.BondOf)
	}
	for _, vlan := range def.VLANs {
		lines = append(lines, "VLAN="+vlan)
	}

	if len(lines) > 0 {
		b.WriteString("\n[Network]\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// renderNetdev produces the .netdev unit body for a virtual device.
func renderNetdev(def *model.Definition) string {
	var b strings.Builder
	b.WriteString("[NetDev]\n")
	fmt.Fprintf(&b, "Name=%s\n", def.ID)
	switch def.Kind {
	case model.KindBridge:
		b.WriteString("Kind=bridge\n")
	case model.KindBond:
		b.WriteString("Kind=bond\n")
	case model.KindVLAN:
		b.WriteString("Kind=vlan\n")
		fmt.Fprintf(&b, "\n[VLAN]\nId=%d\n", def.VLANID)
	}
	return b.String()
}

// sanitizeName maps an arbitrary collection key onto a safe unit file
// name fragment.
func sanitizeName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
