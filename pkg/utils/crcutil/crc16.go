package crcutil

var crcTable [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// CheckCrc16sum computes the Modbus CRC16 (polynomial 0xA001, initial 0xFFFF).
func CheckCrc16sum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}

// AppendCrc16 appends the checksum low byte first, as it travels on the wire.
func AppendCrc16(frame []byte) []byte {
	crc := CheckCrc16sum(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// ValidCrc16 reports whether the trailing two bytes of frame match its checksum.
func ValidCrc16(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	crc := CheckCrc16sum(frame[:n])
	return frame[n] == byte(crc) && frame[n+1] == byte(crc>>8)
}
