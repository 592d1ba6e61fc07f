package crcutil

// Lrc is the two's complement of the byte sum used by Modbus ASCII.
func Lrc(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

func ValidLrc(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	n := len(frame) - 1
	return Lrc(frame[:n]) == frame[n]
}
