package cborval

import (
	"math/big"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)

	tests := []struct {
		name  string
		value Value
	}{
		{"null", Null{}},
		{"bool", Bool(true)},
		{"small integer", NewInteger(42)},
		{"negative integer", NewInteger(-1234567)},
		{"128-bit integer", NewIntegerFromBig(huge)},
		{"float", Float(3.25)},
		{"bytes", Bytes{0x01, 0x02, 0x03}},
		{"text", Text("org.iso.18013.5.1")},
		{"array", Array{NewInteger(1), Text("two"), Bool(false)}},
		{
			"map",
			Map{
				{Key: "given_name", Value: Text("John")},
				{Key: "age", Value: NewInteger(30)},
			},
		},
		{"tag", Tag{Number: 1004, Value: Text("2024-09-23")}},
		{
			"nested",
			Map{
				{Key: "driving_privileges", Value: Array{
					Map{{Key: "vehicle_category_code", Value: Text("B")}},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !Equal(tt.value, decoded) {
				t.Errorf("round trip mismatch: %#v != %#v", tt.value, decoded)
			}
		})
	}
}

func TestCompareOrdersByMajorType(t *testing.T) {
	// integer < bytes < text < array < map
	ordered := []Value{
		NewInteger(99),
		Bytes{0xff},
		Text("a"),
		Array{},
		Map{},
	}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("expected %T < %T", ordered[i], ordered[i+1])
		}
	}
}

func TestCompareLexicographicWithinType(t *testing.T) {
	if Compare(Text("a"), Text("b")) >= 0 {
		t.Error(`expected "a" < "b"`)
	}
	if Compare(Text("b"), Text("a")) <= 0 {
		t.Error(`expected "b" > "a"`)
	}
	if Compare(Text("x"), Text("x")) != 0 {
		t.Error(`expected "x" == "x"`)
	}
}

func TestIntegerPreservesFullRange(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100) // 2^100
	v := NewIntegerFromBig(huge)
	if v.Big().Cmp(huge) != 0 {
		t.Errorf("Big() = %v, want %v", v.Big(), huge)
	}
	if _, ok := v.Int64(); ok {
		t.Error("2^100 should not fit an int64")
	}
}

func TestToJSONBytesBecomeDataURI(t *testing.T) {
	got := ToJSON(Map{{Key: "portrait", Value: Bytes{0x01}}})
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("ToJSON() = %T, want map", got)
	}
	s, ok := m["portrait"].(string)
	if !ok || s != "data:application/octet-stream;base64,AQ==" {
		t.Errorf("portrait = %q", m["portrait"])
	}
}

func TestUntag(t *testing.T) {
	v := Tag{Number: 24, Value: Tag{Number: 0, Value: Text("inner")}}
	if got := Untag(v); !Equal(got, Text("inner")) {
		t.Errorf("Untag() = %#v", got)
	}
}
