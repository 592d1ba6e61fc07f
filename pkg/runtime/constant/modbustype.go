package constant

import (
	"encoding/json"
	"fmt"
)

type ModbusType int8

const (
	Tcp ModbusType = iota
	Rtu
	Ascii
	RtuOverTcp
)

var ModbusTypeToString = map[ModbusType]string{
	Tcp:        "Tcp",
	Rtu:        "Rtu",
	Ascii:      "Ascii",
	RtuOverTcp: "RtuOverTcp",
}

var StringToModbusType = map[string]ModbusType{
	"Tcp":        Tcp,
	"Rtu":        Rtu,
	"Ascii":      Ascii,
	"RtuOverTcp": RtuOverTcp,
}

func (mt ModbusType) String() string {
	if s, ok := ModbusTypeToString[mt]; ok {
		return s
	}
	return fmt.Sprintf("ModbusType(%d)", mt)
}

// IsSerial reports whether the transport is a serial line.
func (mt ModbusType) IsSerial() bool {
	return mt == Rtu || mt == Ascii
}

func (mt ModbusType) MarshalJSON() ([]byte, error) {
	if s, ok := ModbusTypeToString[mt]; ok {
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown modbus type %d", mt)
}

func (mt *ModbusType) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}

	v, ok := StringToModbusType[s]
	if !ok {
		return fmt.Errorf("unknown modbus type %s", s)
	}
	*mt = v
	return nil
}
