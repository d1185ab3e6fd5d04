package config

import (
	"reflect"
	"strings"
)

// Lookup returns the value stored at a dot-separated koanf path such as "rag.top_k".
func (c *Config) Lookup(path string) (any, bool) {
	if c == nil || path == "" {
		return nil, false
	}
	v := reflect.ValueOf(c).Elem()
	for _, part := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return nil, false
		}
		field, ok := fieldByKoanfTag(v, part)
		if !ok {
			return nil, false
		}
		v = field
	}
	return v.Interface(), true
}

func fieldByKoanfTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("koanf") == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
