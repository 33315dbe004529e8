package utility

import "time"

// DeepCopyMap copy document dạng map (map, slice lồng nhau); các kiểu khác copy theo giá trị
func DeepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return DeepCopyMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case *time.Time:
		if x == nil {
			return nil
		}
		t := *x
		return t
	default:
		return v
	}
}
