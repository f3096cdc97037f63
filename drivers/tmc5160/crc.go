package tmc5160

// CRC8 is the UART datagram checksum: polynomial x^8+x^2+x+1, each byte
// shifted in LSB first.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for range 8 {
			if (crc>>7)^(b&0x01) != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}
