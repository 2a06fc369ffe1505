package mdoc

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var logger = zap.NewNop()

// SetLogger routes this package's logs. The default discards everything.
func SetLogger(l *zap.Logger) {
	logger = l
}

// ElementsToJSON renders a document's revealed issuer-signed elements as a
// JSON-friendly tree keyed by namespace then element identifier. Byte
// strings become data URIs so portraits and signatures can be displayed
// directly; values that have no JSON rendering are logged and dropped.
func ElementsToJSON(doc *Document) (map[string]map[string]interface{}, error) {
	return doc.IssuerSigned.ElementsToJSON()
}

// ElementsToJSON renders the issuer-signed elements as a JSON-friendly tree,
// with the same rules as the document-level helper.
func (is *IssuerSigned) ElementsToJSON() (map[string]map[string]interface{}, error) {
	out := make(map[string]map[string]interface{})
	for _, ns := range is.GetNameSpaces() {
		items, err := is.GetIssuerSignedItems(ns)
		if err != nil {
			return nil, fmt.Errorf("failed to read namespace %s: %w", ns, err)
		}
		elements := make(map[string]interface{}, len(items))
		for _, item := range items {
			value, ok := JSONValue(item.ElementValue)
			if !ok {
				logger.Warn("dropping element with unsupported value type",
					zap.String("namespace", string(ns)),
					zap.String("element", string(item.ElementIdentifier)),
					zap.String("type", fmt.Sprintf("%T", item.ElementValue)))
				continue
			}
			elements[string(item.ElementIdentifier)] = value
		}
		out[string(ns)] = elements
	}
	return out, nil
}

// JSONValue converts a decoded CBOR value into its JSON rendering: byte
// strings become data URIs, tags unwrap, times format as RFC 3339. The
// second result is false for values with no JSON form.
func JSONValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return val, true
	case big.Int:
		return val.String(), true
	case []byte:
		return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(val), true
	case time.Time:
		return val.Format(time.RFC3339), true
	case cbor.Tag:
		return JSONValue(val.Content)
	case []interface{}:
		arr := make([]interface{}, 0, len(val))
		for _, e := range val {
			converted, ok := JSONValue(e)
			if !ok {
				return nil, false
			}
			arr = append(arr, converted)
		}
		return arr, true
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, e := range val {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			converted, ok := JSONValue(e)
			if !ok {
				return nil, false
			}
			m[key] = converted
		}
		return m, true
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, e := range val {
			converted, ok := JSONValue(e)
			if !ok {
				return nil, false
			}
			m[k] = converted
		}
		return m, true
	default:
		return nil, false
	}
}
