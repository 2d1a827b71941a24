package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

const (
	circularMarker       = "[Circular Reference]"
	unserializableMarker = "[Unserializable Value]"
)

// SafeSerialize 把任意值序列化为JSON文本, 用于"Task Input"渲染。
// 自引用对象图中每条回环边替换为"[Circular Reference]"标记,
// 无法序列化的值替换为"[Unserializable Value]", 永远不失败。
func SafeSerialize(v interface{}) string {
	sanitized := sanitize(reflect.ValueOf(v), make(map[uintptr]bool))

	data, err := json.MarshalIndent(sanitized, "", "  ")
	if err != nil {
		return unserializableMarker
	}
	return string(data)
}

// sanitize 递归构建一份可安全Marshal的副本。
// visited按当前遍历路径记录指针身份, 回环边命中即替换标记。
func sanitize(v reflect.Value, visited map[uintptr]bool) interface{} {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), visited)

	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if visited[addr] {
			return circularMarker
		}
		visited[addr] = true
		defer delete(visited, addr)
		return sanitize(v.Elem(), visited)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if visited[addr] {
			return circularMarker
		}
		visited[addr] = true
		defer delete(visited, addr)

		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key()
			var keyStr string
			if key.Kind() == reflect.String {
				keyStr = key.String()
			} else {
				keyStr = fmt.Sprint(key.Interface())
			}
			out[keyStr] = sanitize(iter.Value(), visited)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if visited[addr] {
			return circularMarker
		}
		visited[addr] = true
		defer delete(visited, addr)
		return sanitizeSequence(v, visited)

	case reflect.Array:
		return sanitizeSequence(v, visited)

	case reflect.Struct:
		t := v.Type()
		out := make(map[string]interface{})
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				// 跳过未导出字段
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				if tag == "-" {
					continue
				}
				if comma := strings.Index(tag, ","); comma > 0 {
					name = tag[:comma]
				} else if comma < 0 && tag != "" {
					name = tag
				}
			}
			out[name] = sanitize(v.Field(i), visited)
		}
		return out

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return unserializableMarker
		}
		return f

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return unserializableMarker

	default:
		return v.Interface()
	}
}

// sanitizeSequence 处理slice/array元素
func sanitizeSequence(v reflect.Value, visited map[uintptr]bool) interface{} {
	out := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = sanitize(v.Index(i), visited)
	}
	return out
}
