package voker

import "github.com/google/uuid"

// RequestId is a 16-byte Lambda invocation identifier, rendered on the
// wire as the canonical 8-4-4-4-12 lowercase-hex UUID form.
type RequestId [16]byte

var lowerHexTable = [16]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}
var upperHexTable = [16]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'A', 'B', 'C', 'D', 'E', 'F'}

// dashPositions holds the byte offsets, in the 36-byte rendered form,
// where a '-' separator is written instead of a hex nibble pair.
var dashPositions = [4]int{8, 13, 18, 23}

// generateRequestId fills a RequestId from a cryptographically strong
// source and forces the RFC 4122 version/variant bits. The heavy
// lifting (CSPRNG fill, version=4/variant=10 bit assignment) is
// delegated to google/uuid; only the zero-allocation rendering and the
// strict parser below are hand-rolled, since uuid.UUID's own
// String()/Parse don't meet the spec's no-alloc and strict-format
// requirements.
func generateRequestId() (RequestId, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return RequestId{}, err
	}
	return RequestId(id), nil
}

// appendASCII writes the 36-byte canonical rendering of id into
// dst starting at offset 0. dst must be at least 36 bytes; no allocation
// occurs. table selects the case (lowerHexTable or upperHexTable).
func (id RequestId) appendASCII(dst []byte, table *[16]byte) {
	_ = dst[35] // bounds check hint, single pass

	pos := 0
	dashIdx := 0
	for i := 0; i < 16; i++ {
		b := id[i]
		dst[pos] = table[b>>4]
		dst[pos+1] = table[b&0x0F]
		pos += 2

		if dashIdx < len(dashPositions) && pos == dashPositions[dashIdx] {
			dst[pos] = '-'
			pos++
			dashIdx++
		}
	}
}

// ToASCIILower writes the canonical lowercase 36-byte rendering of id
// into a caller-owned buffer. Single pass, zero heap allocation.
func (id RequestId) ToASCIILower(into *[36]byte) {
	id.appendASCII(into[:], &lowerHexTable)
}

// ToASCIIUpper writes the canonical uppercase 36-byte rendering of id
// into a caller-owned buffer.
func (id RequestId) ToASCIIUpper(into *[36]byte) {
	id.appendASCII(into[:], &upperHexTable)
}

// String implements fmt.Stringer. It allocates; prefer ToASCIILower on
// hot paths.
func (id RequestId) String() string {
	var buf [36]byte
	id.ToASCIILower(&buf)
	return string(buf[:])
}

// IsZero reports whether id is the all-zero RequestId.
func (id RequestId) IsZero() bool {
	return id == RequestId{}
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}

func hexNibble(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

// parseRequestId parses the canonical 36-character 8-4-4-4-12 lowercase
// form. Any deviation — wrong length, a dash in the wrong place, a byte
// that is not a lowercase hex digit —
// returns ok=false rather than attempting a lenient recovery.
func parseRequestId(s string) (id RequestId, ok bool) {
	if len(s) != 36 {
		return RequestId{}, false
	}

	dashIdx := 0
	pos := 0
	for i := 0; i < 16; i++ {
		if dashIdx < len(dashPositions) && pos == dashPositions[dashIdx] {
			if s[pos] != '-' {
				return RequestId{}, false
			}
			pos++
			dashIdx++
		}

		hi, lo := s[pos], s[pos+1]
		if !isHexDigit(hi) || !isHexDigit(lo) {
			return RequestId{}, false
		}
		id[i] = hexNibble(hi)<<4 | hexNibble(lo)
		pos += 2
	}

	if pos != 36 {
		return RequestId{}, false
	}

	return id, true
}
