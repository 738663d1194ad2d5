// Package fingerprint derives a stable content digest from a finalized
// model. Two runs over equivalent configuration produce the same
// digest regardless of map iteration order or Unicode representation
// of string values, so the digest can be compared across run-log
// entries to tell whether the effective configuration changed.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/netgen/internal/model"
)

// Model canonicalizes and hashes the finalized state. The returned
// digest is a hex-encoded SHA-256 of the canonical serialization.
func Model(st *model.State) (string, error) {
	data, err := marshalCanonical(stateMap(st))
	if err != nil {
		return "", fmt.Errorf("canonicalizing model: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// stateMap flattens the model into plain maps and slices for canonical
// serialization.
func stateMap(st *model.State) map[string]any {
	defs := make(map[string]any, len(st.Definitions))
	for id, def := range st.Definitions {
		defs[id] = definitionMap(def)
	}

	routes := make(map[string]any, len(st.Routes))
	for key, route := range st.Routes {
		routes[key] = map[string]any{
			"to":     route.To,
			"via":    route.Via,
			"metric": route.Metric,
		}
	}

	rules := make(map[string]any, len(st.Rules))
	for key, rule := range st.Rules {
		rules[key] = map[string]any{
			"from":     rule.From,
			"to":       rule.To,
			"table":    rule.Table,
			"priority": rule.Priority,
		}
	}

	return map[string]any{
		"renderer":    string(st.Renderer()),
		"definitions": defs,
		"routes":      routes,
		"rules":       rules,
	}
}

func definitionMap(def *model.Definition) map[string]any {
	m := map[string]any{
		"kind":     string(def.Kind),
		"renderer": string(def.EffectiveRenderer),
		"dhcp4":    def.DHCP4,
		"dhcp6":    def.DHCP6,
	}
	if !def.Match.Empty() {
		m["match"] = map[string]any{
			"name":       def.Match.Name,
			"macaddress": def.Match.MACAddress,
			"driver":     def.Match.Driver,
		}
	}
	if len(def.Addresses) > 0 {
		m["addresses"] = stringsAny(def.Addresses)
	}
	if def.Gateway4 != "" {
		m["gateway4"] = def.Gateway4
	}
	if def.Gateway6 != "" {
		m["gateway6"] = def.Gateway6
	}
	if len(def.Nameservers.Addresses) > 0 {
		m["nameservers"] = stringsAny(def.Nameservers.Addresses)
	}
	if len(def.Nameservers.Search) > 0 {
		m["search"] = stringsAny(def.Nameservers.Search)
	}
	if def.MACAddress != "" {
		m["macaddress"] = def.MACAddress
	}
	if def.MTU > 0 {
		m["mtu"] = def.MTU
	}
	if def.WakeOnLAN {
		m["wakeonlan"] = true
	}
	if len(def.Interfaces) > 0 {
		m["interfaces"] = stringsAny(def.Interfaces)
	}
	if def.Kind == model.KindVLAN {
		m["vlan-id"] = def.VLANID
		m["vlan-link"] = def.VLANLink
	}
	if len(def.AccessPoints) > 0 {
		aps := make(map[string]any, len(def.AccessPoints))
		for ssid, ap := range def.AccessPoints {
			aps[ssid] = map[string]any{
				"password": ap.Password,
				"mode":     ap.Mode,
			}
		}
		m["access-points"] = aps
	}
	return m
}

func stringsAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// marshalCanonical serializes a value deterministically: object keys
// sorted, strings NFC-normalized, no HTML escaping, no floats, no
// null. The output exists only to be hashed, never parsed.
func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical form")
	case string:
		return marshalCanonicalString(val)
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical form: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical form: %T", v)
	}
}

// marshalCanonicalString NFC-normalizes at the serialization boundary
// so visually identical configuration hashes identically.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline, remove it.
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return result, nil
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
