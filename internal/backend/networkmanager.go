package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/netgen/internal/model"
)

const (
	nmConnectionsDir = "run/NetworkManager/system-connections"
	nmConfDir        = "run/NetworkManager/conf.d"

	// nmConfName collects the devices NetworkManager must not touch
	// because networkd owns them.
	nmConfName = "netplan.conf"

	// PolicyOverridePath, relative to the root, is the zero-length
	// override that disables NetworkManager's default policy of
	// managing only wifi and wwan devices. Existence, not content, is
	// the signal the service consumes.
	PolicyOverridePath = "run/NetworkManager/conf.d/10-globally-managed-devices.conf"

	profilePrefix = "netplan-"
)

// NetworkManagerWriter renders definitions into NetworkManager keyfile
// profiles. It is the integration backend: it hands configuration to
// an already-running service, so its writes never feed the aggregate
// managed flag.
//
// The writer accumulates the IDs of definitions owned by the other
// backend; Finish turns that list into an unmanaged-devices config so
// NetworkManager keeps its hands off them.
type NetworkManagerWriter struct {
	unmanaged []string
}

func NewNetworkManagerWriter() *NetworkManagerWriter {
	return &NetworkManagerWriter{}
}

func (w *NetworkManagerWriter) Name() string { return "NetworkManager" }

func (w *NetworkManagerWriter) ManagedService() bool { return false }

// Write emits keyfile profiles for one definition. Wifi definitions
// get one profile per access point.
func (w *NetworkManagerWriter) Write(def *model.Definition, root string) (bool, error) {
	if def.EffectiveRenderer != model.RendererNetworkManager {
		w.unmanaged = append(w.unmanaged, def.ID)
		return false, nil
	}

	dir := filepath.Join(root, nmConnectionsDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, err
	}

	if def.Kind == model.KindWifi && len(def.AccessPoints) > 0 {
		ssids := make([]string, 0, len(def.AccessPoints))
		for ssid := range def.AccessPoints {
			ssids = append(ssids, ssid)
		}
		sort.Strings(ssids)
		for _, ssid := range ssids {
			name := profilePrefix + def.ID + "-" + sanitizeName(ssid)
			content := renderKeyfile(def, ssid, def.AccessPoints[ssid])
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	name := profilePrefix + def.ID
	content := renderKeyfile(def, "", nil)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		return false, err
	}
	return true, nil
}

// Global routing is owned by the service-managed backend.
func (w *NetworkManagerWriter) WriteRoute(route *model.Route, root string) (bool, error) {
	return false, nil
}

func (w *NetworkManagerWriter) WriteRule(rule *model.Rule, root string) (bool, error) {
	return false, nil
}

// Cleanup removes generated profiles and the unmanaged-devices config
// from a previous run.
func (w *NetworkManagerWriter) Cleanup(root string) error {
	matches, err := filepath.Glob(filepath.Join(root, nmConnectionsDir, profilePrefix+"*"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	conf := filepath.Join(root, nmConfDir, nmConfName)
	if err := os.Remove(conf); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Finish writes the unmanaged-devices list accumulated during the
// per-definition writes.
func (w *NetworkManagerWriter) Finish(root string) error {
	if len(w.unmanaged) == 0 {
		return nil
	}
	sort.Strings(w.unmanaged)

	specs := make([]string, len(w.unmanaged))
	for i, id := range w.unmanaged {
		specs[i] = "interface-name:" + id
	}
	content := fmt.Sprintf("[keyfile]\nunmanaged-devices+=%s\n", strings.Join(specs, ","))

	dir := filepath.Join(root, nmConfDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, nmConfName), []byte(content), 0o644)
}

// WritePolicyOverride unconditionally (re)creates the zero-length
// policy override under root.
func WritePolicyOverride(root string) error {
	path := filepath.Join(root, PolicyOverridePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}

// renderKeyfile produces one keyfile profile. ssid and ap are set for
// wifi profiles only.
func renderKeyfile(def *model.Definition, ssid string, ap *model.AccessPoint) string {
	var b strings.Builder

	b.WriteString("[connection]\n")
	id := profilePrefix + def.ID
	if ssid != "" {
		id += "-" + ssid
	}
	fmt.Fprintf(&b, "id=%s\n", id)
	fmt.Fprintf(&b, "type=%s\n", nmConnectionType(def.Kind))
	if def.Kind.IsVirtual() || def.Match.Empty() || def.Match.Name != "" {
		name := def.ID
		if !def.Kind.IsVirtual() && def.Match.Name != "" {
			name = def.Match.Name
		}
		fmt.Fprintf(&b, "interface-name=%s\n", name)
	}

	switch def.Kind {
	case model.KindEthernet:
		if def.WakeOnLAN || def.MACAddress != "" || def.Match.MACAddress != "" {
			b.WriteString("\n[ethernet]\n")
			if def.WakeOnLAN {
				b.WriteString("wake-on-lan=1\n")
			}
			if def.Match.MACAddress != "" {
				fmt.Fprintf(&b, "mac-address=%s\n", def.Match.MACAddress)
			}
			if def.MACAddress != "" {
				fmt.Fprintf(&b, "cloned-mac-address=%s\n", def.MACAddress)
			}
		}
	case model.KindWifi:
		b.WriteString("\n[wifi]\n")
		fmt.Fprintf(&b, "ssid=%s\n", ssid)
		mode := "infrastructure"
		if ap != nil && ap.Mode != "" {
			mode = ap.Mode
		}
		fmt.Fprintf(&b, "mode=%s\n", mode)
		if ap != nil && ap.Password != "" {
			b.WriteString("\n[wifi-security]\n")
			b.WriteString("key-mgmt=wpa-psk\n")
			fmt.Fprintf(&b, "psk=%s\n", ap.Password)
		}
	case model.KindVLAN:
		b.WriteString("\n[vlan]\n")
		fmt.Fprintf(&b, "id=%d\n", def.VLANID)
		fmt.Fprintf(&b, "parent=%s\n", def.VLANLink)
	}

	b.WriteString("\n[ipv4]\n")
	v4, v6 := splitAddressFamilies(def.Addresses)
	switch {
	case def.DHCP4:
		b.WriteString("method=auto\n")
	case len(v4) > 0:
		b.WriteString("method=manual\n")
	default:
		b.WriteString("method=link-local\n")
	}
	for i, addr := range v4 {
		entry := addr
		if i == 0 && def.Gateway4 != "" {
			entry += "," + def.Gateway4
		}
		fmt.Fprintf(&b, "address%d=%s\n", i+1, entry)
	}
	if len(def.Nameservers.Addresses) > 0 {
		fmt.Fprintf(&b, "dns=%s;\n", strings.Join(def.Nameservers.Addresses, ";"))
	}
	if len(def.Nameservers.Search) > 0 {
		fmt.Fprintf(&b, "dns-search=%s;\n", strings.Join(def.Nameservers.Search, ";"))
	}

	b.WriteString("\n[ipv6]\n")
	switch {
	case def.DHCP6:
		b.WriteString("method=auto\n")
	case len(v6) > 0:
		b.WriteString("method=manual\n")
	default:
		b.WriteString("method=ignore\n")
	}
	for i, addr := range v6 {
		entry := addr
		if i == 0 && def.Gateway6 != "" {
			entry += "," + def.Gateway6
		}
		fmt.Fprintf(&b, "address%d=%s\n", i+1, entry)
	}

	return b.String()
}

func nmConnectionType(kind model.Kind) string {
	switch kind {
	case model.KindWifi:
		return "wifi"
	case model.KindBridge:
		return "bridge"
	case model.KindBond:
		return "bond"
	case model.KindVLAN:
		return "vlan"
	}
	return "ethernet"
}

// splitAddressFamilies separates CIDR addresses into v4 and v6 lists,
// preserving the configured order within each family.
func splitAddressFamilies(addrs []string) (v4, v6 []string) {
	for _, addr := range addrs {
		if strings.Contains(addr, ":") {
			v6 = append(v6, addr)
		} else {
			v4 = append(v4, addr)
		}
	}
	return v4, v6
}
