package slipmux

// Configuration frames end with a CRC-16/CCITT frame check sequence as in RFC 1662,
// sent least significant byte first. The initial value already includes the
// configuration marker, so the FCS covers marker and payload.
const (
	fcsInitConfiguration uint16 = 0x374C
	fcsGood              uint16 = 0xF0B8
	fcsLen                      = 2
)

var fcsTable = makeFCSTable()

func makeFCSTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		v := uint16(i)
		for range 8 {
			if v&1 != 0 {
				v = v>>1 ^ 0x8408
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}

	return table
}

func fcsUpdate(fcs uint16, data []byte) uint16 {
	for _, b := range data {
		fcs = fcs>>8 ^ fcsTable[byte(fcs)^b]
	}

	return fcs
}

// AppendFCS appends the configuration FCS of payload to payload.
func AppendFCS(payload []byte) []byte {
	fcs := ^fcsUpdate(fcsInitConfiguration, payload)

	return append(payload, byte(fcs), byte(fcs>>8))
}

// CheckFCS verifies the trailing FCS of a received configuration frame and returns
// the payload without it.
func CheckFCS(frame []byte) ([]byte, error) {
	if len(frame) < fcsLen {
		return nil, ErrShortFCS
	}
	if fcsUpdate(fcsInitConfiguration, frame) != fcsGood {
		return nil, ErrBadFCS
	}

	return frame[:len(frame)-fcsLen], nil
}
