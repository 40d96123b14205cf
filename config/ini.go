package config

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/ini.v1"
)

// iniLoadOptions keep values literal: no quote stripping and no inline
// comments. Key names are case-insensitive, section names are not.
var iniLoadOptions = ini.LoadOptions{
	InsensitiveKeys:         true,
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// INI is a koanf parser for INI files. Keys of the DEFAULT section are
// inherited by every other section, and are also kept under "DEFAULT".
type INI struct{}

// INIParser returns an INI parser for koanf.
func INIParser() *INI {
	return &INI{}
}

// Unmarshal parses INI bytes into a section -> key -> value map.
func (p *INI) Unmarshal(b []byte) (map[string]interface{}, error) {
	f, err := ini.LoadSources(iniLoadOptions, b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ini: %w", err)
	}

	defaults := f.Section(ini.DefaultSection).KeysHash()

	out := make(map[string]interface{})
	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			if len(defaults) == 0 {
				continue
			}
			out[name] = toInterfaceMap(defaults)
			continue
		}

		values := make(map[string]interface{}, len(defaults)+len(sec.Keys()))
		for k, v := range defaults {
			values[k] = v
		}
		for _, key := range sec.Keys() {
			values[key.Name()] = key.Value()
		}
		out[name] = values
	}

	return out, nil
}

// Marshal renders a section -> key -> value map as INI. Top level scalar
// values are written into the DEFAULT section.
func (p *INI) Marshal(o map[string]interface{}) ([]byte, error) {
	f := ini.Empty(iniLoadOptions)

	for _, name := range sortedKeys(o) {
		switch v := o[name].(type) {
		case map[string]interface{}:
			sec, err := f.NewSection(name)
			if err != nil {
				return nil, err
			}
			for _, k := range sortedKeys(v) {
				if _, err := sec.NewKey(k, fmt.Sprint(v[k])); err != nil {
					return nil, err
				}
			}
		default:
			if _, err := f.Section(ini.DefaultSection).NewKey(name, fmt.Sprint(v)); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toInterfaceMap(in map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
