package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Keys lists every dotted key accepted by Set, in sorted order.
func Keys() []string {
	var keys []string
	collectKeys(reflect.TypeOf(Config{}), "", &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, squash := tagName(f)
		if name == "-" {
			continue
		}
		if squash {
			collectKeys(f.Type, prefix, keys)
			continue
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, prefix+name+".", keys)
			continue
		}
		*keys = append(*keys, prefix+name)
	}
}

func tagName(f reflect.StructField) (string, bool) {
	parts := strings.Split(f.Tag.Get("mapstructure"), ",")
	squash := len(parts) > 1 && parts[1] == "squash"
	if parts[0] == "" && !squash {
		return strings.ToLower(f.Name), false
	}
	return parts[0], squash
}

// field resolves a dotted key to the struct field holding it.
func field(v reflect.Value, path []string) (reflect.Value, bool) {
	if len(path) == 0 {
		return v, true
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, squash := tagName(t.Field(i))
		if squash {
			if fv, ok := field(v.Field(i), path); ok {
				return fv, true
			}
			continue
		}
		if name != "-" && name == path[0] {
			return field(v.Field(i), path[1:])
		}
	}
	return reflect.Value{}, false
}

// lookup returns the value of a leaf key; nil pointers yield nil.
func (c *Config) lookup(key string) (any, bool) {
	fv, ok := field(reflect.ValueOf(c).Elem(), strings.Split(key, "."))
	if !ok || fv.Kind() == reflect.Struct {
		return nil, false
	}
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, true
		}
		return fv.Elem().Interface(), true
	}
	return fv.Interface(), true
}

// parseValue converts the command-line form of value to the type of key.
// Lists are comma separated.
func parseValue(key, value string) (any, error) {
	var c Config
	fv, ok := field(reflect.ValueOf(&c).Elem(), strings.Split(key, "."))
	if !ok || fv.Kind() == reflect.Struct {
		return nil, unknownKey(key)
	}

	t := fv.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return value, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: expected true or false, got %q", key, value)
		}
		return b, nil
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s: expected an integer, got %q", key, value)
		}
		return n, nil
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected a number, got %q", key, value)
		}
		return f, nil
	case reflect.Slice:
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return items, nil
	}
	return nil, fmt.Errorf("%s: unsupported type %s", key, t)
}
