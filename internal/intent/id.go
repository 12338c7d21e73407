package intent

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const intentIDPrefixV1 = "LIQ_INTENT_V1"

// ID is the deterministic intent identifier.
type ID [32]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID decodes a 64-character hex intent id.
func ParseID(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("intent: invalid id %q: %w", s, err)
	}
	if len(b) != 32 {
		return ID{}, fmt.Errorf("intent: invalid id length %d", len(b))
	}
	var out ID
	copy(out[:], b)
	return out, nil
}

// DeriveID computes the canonical intent id:
//
//	keccak256("LIQ_INTENT_V1" || len(submitter) || submitter
//	          || len(account) || account || len(venue) || venue
//	          || thresholdBE64 || minPriceBE64 || deadlineBE64 || heightBE64)
//
// Length-prefixing the variable fields keeps the encoding injective, so two
// distinct parameter sets can only collide by breaking keccak itself.
func DeriveID(submitter, targetAccount, targetVenue string, healthRatioThreshold, minPrice int64, deadline, submissionHeight uint64) ID {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(intentIDPrefixV1))

	writeString := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(s))
	}
	writeUint64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		_, _ = h.Write(b[:])
	}

	writeString(submitter)
	writeString(targetAccount)
	writeString(targetVenue)
	writeUint64(uint64(healthRatioThreshold))
	writeUint64(uint64(minPrice))
	writeUint64(deadline)
	writeUint64(submissionHeight)

	sum := h.Sum(nil)
	var out ID
	copy(out[:], sum)
	return out
}
