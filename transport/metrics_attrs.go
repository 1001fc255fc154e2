package transport

import (
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func haloLabel(haloID int) string {
	return strconv.Itoa(haloID)
}

func pathLabel(loopback bool) string {
	if loopback {
		return "loopback"
	}
	return "transport"
}

func haloAttr(haloID int) attribute.KeyValue {
	return attribute.Int("halo_id", haloID)
}

func pathAttr(loopback bool) attribute.KeyValue {
	return attribute.String("path", pathLabel(loopback))
}

func directionAttr(direction string) attribute.KeyValue {
	return attribute.String("direction", direction)
}

// attributeFor converts an arbitrary span attribute value into an
// attribute.KeyValue, covering the scalar kinds the coordinator attaches
// (halo id, msgtag, peer rank, path name).
func attributeFor(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
