package constant

import (
	"encoding/json"
	"fmt"
)

// MemoryLayout is the byte order of multi-register values as the device stores them.
type MemoryLayout byte

const (
	ABCD MemoryLayout = iota // big-endian
	BADC                     // big-endian byte swap
	CDAB                     // little-endian byte swap
	DCBA                     // little-endian
)

var MemoryLayoutToString = map[MemoryLayout]string{
	ABCD: "ABCD",
	BADC: "BADC",
	CDAB: "CDAB",
	DCBA: "DCBA",
}

var StringToMemoryLayout = map[string]MemoryLayout{
	"ABCD": ABCD,
	"BADC": BADC,
	"CDAB": CDAB,
	"DCBA": DCBA,
}

func (ml MemoryLayout) String() string {
	if s, ok := MemoryLayoutToString[ml]; ok {
		return s
	}
	return fmt.Sprintf("MemoryLayout(%d)", ml)
}

func (ml MemoryLayout) MarshalJSON() ([]byte, error) {
	if s, ok := MemoryLayoutToString[ml]; ok {
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown memory layout type %d", ml)
}

func (ml *MemoryLayout) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}

	v, ok := StringToMemoryLayout[s]
	if !ok {
		return fmt.Errorf("unknown memory layout type %s", s)
	}
	*ml = v
	return nil
}
