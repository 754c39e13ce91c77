package wirefmt

import "fmt"

// MaxAddressLen bounds an address' encoded UTF-8 length.
const MaxAddressLen = 90

// EncodeAddressOutpointKey builds the address index key: 1-byte length ‖
// address UTF-8 ‖ 4-byte XOR-inverted BE height ‖ 36-byte OutPoint. The
// map built from these keys behaves as a sorted set (values are empty)
// enumerable in height-descending order per address.
func EncodeAddressOutpointKey(address string, height uint32, op OutPoint) ([]byte, error) {
	if len(address) == 0 || len(address) > MaxAddressLen {
		return nil, fmt.Errorf("wirefmt: address length %d out of bounds (1..%d)", len(address), MaxAddressLen)
	}
	heightEnc := EncodeHeightDescending(height)
	opEnc := EncodeOutPoint(op)

	buf := make([]byte, 1+len(address)+HeightKeySize+OutPointSize)
	buf[0] = byte(len(address))
	off := 1
	copy(buf[off:], address)
	off += len(address)
	copy(buf[off:], heightEnc[:])
	off += HeightKeySize
	copy(buf[off:], opEnc[:])
	return buf, nil
}

// AddressOutpointKeyPrefix builds the key prefix identifying every entry
// for one address, for a prefix-scoped scan of the index.
func AddressOutpointKeyPrefix(address string) ([]byte, error) {
	if len(address) == 0 || len(address) > MaxAddressLen {
		return nil, fmt.Errorf("wirefmt: address length %d out of bounds (1..%d)", len(address), MaxAddressLen)
	}
	buf := make([]byte, 1+len(address))
	buf[0] = byte(len(address))
	copy(buf[1:], address)
	return buf, nil
}

// DecodeAddressOutpointKey parses a full AddressOutpointKey back into its
// components.
func DecodeAddressOutpointKey(b []byte) (address string, height uint32, op OutPoint, err error) {
	if len(b) < 1 {
		return "", 0, OutPoint{}, fmt.Errorf("wirefmt: address-outpoint key is empty")
	}
	addrLen := int(b[0])
	want := 1 + addrLen + HeightKeySize + OutPointSize
	if len(b) != want {
		return "", 0, OutPoint{}, fmt.Errorf("wirefmt: address-outpoint key must be %d bytes, got %d", want, len(b))
	}
	off := 1
	address = string(b[off : off+addrLen])
	off += addrLen
	var heightEnc [HeightKeySize]byte
	copy(heightEnc[:], b[off:off+HeightKeySize])
	height = DecodeHeightDescending(heightEnc)
	off += HeightKeySize
	op, err = DecodeOutPoint(b[off : off+OutPointSize])
	if err != nil {
		return "", 0, OutPoint{}, err
	}
	return address, height, op, nil
}
