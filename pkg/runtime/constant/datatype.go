package constant

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DataType int8

const (
	Bool DataType = iota
	Byte
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float
	Double
	Int16Bit
	UInt16Bit
)

var DataTypeToString = map[DataType]string{
	Bool:      "Bool",
	Byte:      "Byte",
	Int16:     "Int16",
	UInt16:    "UInt16",
	Int32:     "Int32",
	UInt32:    "UInt32",
	Int64:     "Int64",
	UInt64:    "UInt64",
	Float:     "Float",
	Double:    "Double",
	Int16Bit:  "Int16Bit",
	UInt16Bit: "UInt16Bit",
}

var StringToDataType = map[string]DataType{
	"Bool":      Bool,
	"Byte":      Byte,
	"Int16":     Int16,
	"UInt16":    UInt16,
	"Int32":     Int32,
	"UInt32":    UInt32,
	"Int64":     Int64,
	"UInt64":    UInt64,
	"Float":     Float,
	"Double":    Double,
	"Int16Bit":  Int16Bit,
	"UInt16Bit": UInt16Bit,
}

// DataTypeWord is the number of 16-bit registers a value occupies.
var DataTypeWord = map[DataType]uint16{
	Bool:      1,
	Byte:      1,
	Int16:     1,
	UInt16:    1,
	Int32:     2,
	UInt32:    2,
	Int64:     4,
	UInt64:    4,
	Float:     2,
	Double:    4,
	Int16Bit:  1,
	UInt16Bit: 1,
}

// ParseDataType accepts the canonical names case-insensitively.
func ParseDataType(s string) (DataType, bool) {
	s = strings.TrimSpace(s)
	if dt, ok := StringToDataType[s]; ok {
		return dt, true
	}
	for name, dt := range StringToDataType {
		if strings.EqualFold(name, s) {
			return dt, true
		}
	}
	return 0, false
}

func (dt DataType) String() string {
	if s, ok := DataTypeToString[dt]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", dt)
}

func (dt DataType) Word() uint16 {
	return DataTypeWord[dt]
}

func (dt DataType) IsBitSlice() bool {
	return dt == Int16Bit || dt == UInt16Bit
}

func (dt DataType) MarshalJSON() ([]byte, error) {
	if s, ok := DataTypeToString[dt]; ok {
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown data type %d", dt)
}

func (dt *DataType) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}

	v, ok := ParseDataType(s)
	if !ok {
		return fmt.Errorf("unknown data type %s", s)
	}
	*dt = v
	return nil
}
