package discord

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// argSpec describes one positional argument of a request struct, read from
// the field's arg and discord tags.
type argSpec struct {
	// Field is the index of the struct field.
	Field int
	// Key is what mapstructure matches: the arg tag or the field name.
	Key         string
	Name        string
	Description string
	Required    bool
	// Rest marks a trailing string argument that takes the remaining words.
	Rest    bool
	Default string
	Choices []choice
}

type choice struct {
	Value string
	Label string
}

// parseDiscordTag splits "optional,description:desc,choices:a|A;b|B,default:foo"
// into keys and values. Bare keys map to "true".
func parseDiscordTag(tag string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			result[part] = "true"
			continue
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return result
}

// parseChoices reads "val1|Label1;val2". A missing label repeats the value.
func parseChoices(s string) []choice {
	var choices []choice
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		value, label, ok := strings.Cut(pair, "|")
		if !ok {
			label = value
		}
		choices = append(choices, choice{Value: value, Label: label})
	}
	return choices
}

// structToArgs describes the positional arguments of a request struct.
func structToArgs(req Request) ([]argSpec, error) {
	t := reflect.TypeOf(req)
	if t == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("request is not a struct")
	}
	return typeToArgs(t), nil
}

func typeToArgs(t reflect.Type) []argSpec {
	var specs []argSpec
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		spec := argSpec{
			Field:    i,
			Key:      field.Name,
			Name:     strings.ToLower(field.Name),
			Required: true,
		}
		if name := field.Tag.Get("arg"); name != "" {
			spec.Key, spec.Name = name, name
		}
		spec.Description = "Argument " + spec.Name

		tags := parseDiscordTag(field.Tag.Get("discord"))
		if _, ok := tags["optional"]; ok {
			spec.Required = false
		}
		if def, ok := tags["default"]; ok {
			spec.Required = false
			spec.Default = def
		}
		if desc := tags["description"]; desc != "" {
			spec.Description = desc
		}
		if c := tags["choices"]; c != "" {
			spec.Choices = parseChoices(c)
		}

		specs = append(specs, spec)
	}

	if n := len(specs); n > 0 {
		last := &specs[n-1]
		last.Rest = t.Field(last.Field).Type.Kind() == reflect.String
	}
	return specs
}

// argsToMap assigns positional args to argument keys for mapstructure.
func argsToMap(specs []argSpec, args []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for i, spec := range specs {
		if i >= len(args) {
			if spec.Required {
				return nil, fmt.Errorf("missing argument <%s>", spec.Name)
			}
			continue
		}
		if spec.Rest {
			out[spec.Key] = strings.Join(args[i:], " ")
			return out, nil
		}
		out[spec.Key] = args[i]
	}

	if len(args) > len(specs) {
		if len(specs) == 0 {
			return nil, fmt.Errorf("command takes no arguments")
		}
		return nil, fmt.Errorf("too many arguments: expected at most %d", len(specs))
	}
	return out, nil
}

// applyDefaults fills zero fields of v from their default tag.
func applyDefaults(v reflect.Value, specs []argSpec) error {
	for _, spec := range specs {
		field := v.Field(spec.Field)
		if spec.Default != "" && field.IsZero() {
			converted, err := convertType(spec.Default, field.Type())
			if err != nil {
				return fmt.Errorf("default for %s: %w", spec.Name, err)
			}
			field.Set(converted)
		}
	}
	return nil
}

// checkChoices rejects set fields whose value is not one of their choices.
func checkChoices(v reflect.Value, specs []argSpec) error {
	for _, spec := range specs {
		field := v.Field(spec.Field)
		if len(spec.Choices) == 0 || field.IsZero() {
			continue
		}

		got := fmt.Sprint(field.Interface())
		allowed := make([]string, 0, len(spec.Choices))
		for _, c := range spec.Choices {
			if c.Value == got {
				allowed = nil
				break
			}
			allowed = append(allowed, c.Value)
		}
		if allowed != nil {
			return fmt.Errorf("invalid %s %q, expected one of: %s", spec.Name, got, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// convertType converts a string value to a reflect.Value of type t for basic types.
func convertType(val string, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(val, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(i).Convert(t), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(val, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(u).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(val, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(t), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(t), nil
	default:
		return reflect.Value{}, fmt.Errorf("unsupported type for default conversion: %s", t.Kind())
	}
}
