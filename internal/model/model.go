package model

import (
	"fmt"
	"sort"
)

// Renderer identifies which backend owns a definition's generated output.
type Renderer string

const (
	// RendererNetworkd is the service-managed backend. Output it produces
	// requires systemd-networkd to be running, so the orchestrator may
	// enable the service and reload the udev cache after generation.
	RendererNetworkd Renderer = "networkd"

	// RendererNetworkManager is the integration backend. It hands profiles
	// to an already-running NetworkManager instance.
	RendererNetworkManager Renderer = "NetworkManager"
)

// Kind classifies a network definition by device class.
type Kind string

const (
	KindEthernet Kind = "ethernets"
	KindWifi     Kind = "wifis"
	KindBridge   Kind = "bridges"
	KindBond     Kind = "bonds"
	KindVLAN     Kind = "vlans"
)

// IsVirtual reports whether devices of this kind are created by the
// backend rather than matched against existing hardware.
func (k Kind) IsVirtual() bool {
	switch k {
	case KindBridge, KindBond, KindVLAN:
		return true
	}
	return false
}

// MatchSpec selects physical devices by name, MAC address, or driver.
type MatchSpec struct {
	Name       string
	MACAddress string
	Driver     string
}

// Empty reports whether no match criteria are set.
func (m MatchSpec) Empty() bool {
	return m == MatchSpec{}
}

// Nameservers holds DNS configuration for a definition.
type Nameservers struct {
	Search    []string
	Addresses []string
}

// AccessPoint describes one wifi SSID on a wifi definition.
type AccessPoint struct {
	Password string
	Mode     string // "infrastructure" (default) or "adhoc" or "ap"
}

// Definition is one network device as accumulated across all ingested
// sources. It is mutated only by the ingestion pipeline; after
// State.Finalize it is read-only.
type Definition struct {
	ID   string
	Kind Kind

	// Renderer is the per-definition override; empty means inherit the
	// global renderer. EffectiveRenderer is resolved during Finalize.
	Renderer          Renderer
	EffectiveRenderer Renderer

	Match       MatchSpec
	DHCP4       bool
	DHCP6       bool
	Addresses   []string
	Gateway4    string
	Gateway6    string
	Nameservers Nameservers
	MACAddress  string
	MTU         int
	WakeOnLAN   bool

	// Interfaces lists member device IDs for bridges and bonds.
	Interfaces []string

	// VLANID and VLANLink apply to vlan definitions only.
	VLANID   int
	VLANLink string

	// AccessPoints applies to wifi definitions only.
	AccessPoints map[string]*AccessPoint

	// Membership annotations, filled in by Finalize from the owning
	// bridge/bond/vlan definitions.
	BridgeOf string
	BondOf   string
	VLANs    []string
}

// Route is one entry in the global static-route table, keyed by
// destination.
type Route struct {
	To     string
	Via    string
	Metric int
}

// Key returns the identity of the route within the global table.
func (r *Route) Key() string {
	return r.To
}

// Rule is one entry in the global policy-routing table.
type Rule struct {
	From     string
	To       string
	Table    int
	Priority int
}

// Key returns the identity of the rule within the global table.
func (r *Rule) Key() string {
	return fmt.Sprintf("from=%s to=%s", r.From, r.To)
}

// State is the shared configuration model. It has exactly one writer
// (the ingestion pipeline) and becomes read-only once Finalize has run;
// the backend dispatcher only ever reads it.
type State struct {
	Definitions map[string]*Definition
	Routes      map[string]*Route
	Rules       map[string]*Rule

	renderer  Renderer
	finalized bool
}

// NewState returns an empty model ready for ingestion.
func NewState() *State {
	return &State{
		Definitions: make(map[string]*Definition),
		Routes:      make(map[string]*Route),
		Rules:       make(map[string]*Rule),
	}
}

// SetGlobalRenderer records the top-level renderer. Later sources
// override earlier ones.
func (s *State) SetGlobalRenderer(r Renderer) {
	s.renderer = r
}

// Renderer returns the resolved global renderer, defaulting to the
// service-managed backend.
func (s *State) Renderer() Renderer {
	if s.renderer == "" {
		return RendererNetworkd
	}
	return s.renderer
}

// Finalized reports whether Finalize has completed.
func (s *State) Finalized() bool {
	return s.finalized
}

// Finalize validates cross-references across the fully merged model and
// freezes it. It resolves each definition's effective renderer and
// annotates bridge/bond members and vlan links with their owners.
//
// A failure here after successful ingestion of every source is an
// internal invariant violation, not a user error.
func (s *State) Finalize() error {
	if s.finalized {
		return fmt.Errorf("model already finalized")
	}

	for _, def := range sortedDefinitions(s.Definitions) {
		def.EffectiveRenderer = def.Renderer
		if def.EffectiveRenderer == "" {
			def.EffectiveRenderer = s.Renderer()
		}

		switch def.Kind {
		case KindBridge, KindBond:
			for _, member := range def.Interfaces {
				m, ok := s.Definitions[member]
				if !ok {
					return fmt.Errorf("%s %s: member interface %s is not defined", def.Kind, def.ID, member)
				}
				if m.Kind.IsVirtual() && m.Kind != KindVLAN {
					return fmt.Errorf("%s %s: member interface %s must not itself be a %s", def.Kind, def.ID, member, m.Kind)
				}
				if def.Kind == KindBridge {
					m.BridgeOf = def.ID
				} else {
					m.BondOf = def.ID
				}
			}
		case KindVLAN:
			if def.VLANLink == "" {
				return fmt.Errorf("vlan %s: missing link", def.ID)
			}
			link, ok := s.Definitions[def.VLANLink]
			if !ok {
				return fmt.Errorf("vlan %s: link %s is not defined", def.ID, def.VLANLink)
			}
			link.VLANs = append(link.VLANs, def.ID)
		}
	}

	// Deterministic VLAN annotation order regardless of map iteration.
	for _, def := range s.Definitions {
		sort.Strings(def.VLANs)
	}

	s.finalized = true
	return nil
}

// sortedDefinitions returns the definitions in ascending ID order so
// that Finalize produces stable error messages and annotations.
func sortedDefinitions(defs map[string]*Definition) []*Definition {
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Definition, len(ids))
	for i, id := range ids {
		out[i] = defs[id]
	}
	return out
}
