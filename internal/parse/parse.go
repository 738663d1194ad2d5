// Package parse is the ingestion pipeline: it reads one YAML source at
// a time, validates it against the embedded schema, and merges it into
// the shared model. Later sources override or extend fields of earlier
// ones with the same definition identity.
package parse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/netgen/internal/model"
)

// ParseError describes a malformed or semantically invalid source
// file. The orchestrator reports it and terminates the run; partial
// ingestion state is discarded with the process.
type ParseError struct {
	File    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// document mirrors the on-disk YAML shape. Scalar fields are pointers
// so that a later source only overrides what it actually mentions.
type document struct {
	Network *networkDoc `yaml:"network"`
}

type networkDoc struct {
	Version       *int                  `yaml:"version"`
	Renderer      *string               `yaml:"renderer"`
	Ethernets     map[string]*deviceDoc `yaml:"ethernets"`
	Wifis         map[string]*deviceDoc `yaml:"wifis"`
	Bridges       map[string]*deviceDoc `yaml:"bridges"`
	Bonds         map[string]*deviceDoc `yaml:"bonds"`
	VLANs         map[string]*deviceDoc `yaml:"vlans"`
	Routes        []routeDoc            `yaml:"routes"`
	RoutingPolicy []ruleDoc             `yaml:"routing-policy"`
}

type deviceDoc struct {
	Renderer     *string                    `yaml:"renderer"`
	Match        *matchDoc                  `yaml:"match"`
	DHCP4        *bool                      `yaml:"dhcp4"`
	DHCP6        *bool                      `yaml:"dhcp6"`
	Addresses    []string                   `yaml:"addresses"`
	Gateway4     *string                    `yaml:"gateway4"`
	Gateway6     *string                    `yaml:"gateway6"`
	Nameservers  *nameserversDoc            `yaml:"nameservers"`
	MACAddress   *string                    `yaml:"macaddress"`
	MTU          *int                       `yaml:"mtu"`
	WakeOnLAN    *bool                      `yaml:"wakeonlan"`
	Interfaces   []string                   `yaml:"interfaces"`
	ID           *int                       `yaml:"id"`
	Link         *string                    `yaml:"link"`
	AccessPoints map[string]*accessPointDoc `yaml:"access-points"`
}

type matchDoc struct {
	Name       *string `yaml:"name"`
	MACAddress *string `yaml:"macaddress"`
	Driver     *string `yaml:"driver"`
}

type nameserversDoc struct {
	Search    []string `yaml:"search"`
	Addresses []string `yaml:"addresses"`
}

type accessPointDoc struct {
	Password *string `yaml:"password"`
	Mode     *string `yaml:"mode"`
}

type routeDoc struct {
	To     string `yaml:"to"`
	Via    string `yaml:"via"`
	Metric int    `yaml:"metric"`
}

type ruleDoc struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Table    int    `yaml:"table"`
	Priority int    `yaml:"priority"`
}

// Ingest reads, validates, and merges one source file into the model.
// It must be called with each resolved source in application order.
func Ingest(st *model.State, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ParseError{File: path, Message: "reading source", Err: err}
	}

	if err := validateSchema(data); err != nil {
		return &ParseError{File: path, Message: "invalid configuration", Err: err}
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &ParseError{File: path, Message: "empty source, missing 'network' mapping"}
		}
		return &ParseError{File: path, Message: "invalid YAML", Err: err}
	}
	if doc.Network == nil {
		return &ParseError{File: path, Message: "missing 'network' mapping"}
	}
	if doc.Network.Version != nil && *doc.Network.Version != 2 {
		return &ParseError{File: path, Message: fmt.Sprintf("unsupported version %d, only version 2 is supported", *doc.Network.Version)}
	}

	return mergeNetwork(st, doc.Network, path)
}

// mergeNetwork applies one validated document to the model.
func mergeNetwork(st *model.State, n *networkDoc, path string) error {
	if n.Renderer != nil {
		st.SetGlobalRenderer(model.Renderer(*n.Renderer))
	}

	classes := []struct {
		kind    model.Kind
		devices map[string]*deviceDoc
	}{
		{model.KindEthernet, n.Ethernets},
		{model.KindWifi, n.Wifis},
		{model.KindBridge, n.Bridges},
		{model.KindBond, n.Bonds},
		{model.KindVLAN, n.VLANs},
	}
	for _, class := range classes {
		if err := mergeDevices(st, class.kind, class.devices, path); err != nil {
			return err
		}
	}

	for _, r := range n.Routes {
		if r.To == "" {
			return &ParseError{File: path, Message: "route is missing 'to'"}
		}
		route := &model.Route{To: r.To, Via: r.Via, Metric: r.Metric}
		st.Routes[route.Key()] = route
	}
	for _, r := range n.RoutingPolicy {
		if r.From == "" && r.To == "" {
			return &ParseError{File: path, Message: "routing-policy rule needs 'from' or 'to'"}
		}
		rule := &model.Rule{From: r.From, To: r.To, Table: r.Table, Priority: r.Priority}
		st.Rules[rule.Key()] = rule
	}

	return nil
}

// mergeDevices merges one device class's entries, creating definitions
// on first sight and overriding mentioned fields on later sightings.
// Keys are visited in sorted order so error reporting is stable.
func mergeDevices(st *model.State, kind model.Kind, devices map[string]*deviceDoc, path string) error {
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		dev := devices[id]
		def, ok := st.Definitions[id]
		if !ok {
			def = &model.Definition{ID: id, Kind: kind}
			st.Definitions[id] = def
		} else if def.Kind != kind {
			return &ParseError{
				File:    path,
				Message: fmt.Sprintf("device %s defined in %s but already defined in %s", id, kind, def.Kind),
			}
		}
		if dev == nil {
			continue
		}
		applyDevice(def, dev)
	}
	return nil
}

// applyDevice copies the fields present in the document onto the
// definition. Absent fields leave earlier values untouched; list
// fields replace wholesale.
func applyDevice(def *model.Definition, dev *deviceDoc) {
	if dev.Renderer != nil {
		def.Renderer = model.Renderer(*dev.Renderer)
	}
	if dev.Match != nil {
		if dev.Match.Name != nil {
			def.Match.Name = *dev.Match.Name
		}
		if dev.Match.MACAddress != nil {
			def.Match.MACAddress = *dev.Match.MACAddress
		}
		if dev.Match.Driver != nil {
			def.Match.Driver = *dev.Match.Driver
		}
	}
	if dev.DHCP4 != nil {
		def.DHCP4 = *dev.DHCP4
	}
	if dev.DHCP6 != nil {
		def.DHCP6 = *dev.DHCP6
	}
	if dev.Addresses != nil {
		def.Addresses = dev.Addresses
	}
	if dev.Gateway4 != nil {
		def.Gateway4 = *dev.Gateway4
	}
	if dev.Gateway6 != nil {
		def.Gateway6 = *dev.Gateway6
	}
	if dev.Nameservers != nil {
		if dev.Nameservers.Search != nil {
			def.Nameservers.Search = dev.Nameservers.Search
		}
		if dev.Nameservers.Addresses != nil {
			def.Nameservers.Addresses = dev.Nameservers.Addresses
		}
	}
	if dev.MACAddress != nil {
		def.MACAddress = *dev.MACAddress
	}
	if dev.MTU != nil {
		def.MTU = *dev.MTU
	}
	if dev.WakeOnLAN != nil {
		def.WakeOnLAN = *dev.WakeOnLAN
	}
	if dev.Interfaces != nil {
		def.Interfaces = dev.Interfaces
	}
	if dev.ID != nil {
		def.VLANID = *dev.ID
	}
	if dev.Link != nil {
		def.VLANLink = *dev.Link
	}
	if dev.AccessPoints != nil {
		if def.AccessPoints == nil {
			def.AccessPoints = make(map[string]*model.AccessPoint)
		}
		for ssid, ap := range dev.AccessPoints {
			merged, ok := def.AccessPoints[ssid]
			if !ok {
				merged = &model.AccessPoint{}
				def.AccessPoints[ssid] = merged
			}
			if ap == nil {
				continue
			}
			if ap.Password != nil {
				merged.Password = *ap.Password
			}
			if ap.Mode != nil {
				merged.Mode = *ap.Mode
			}
		}
	}
}
