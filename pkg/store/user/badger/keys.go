package badger

import "encoding/binary"

// Key Namespace
// =============
//
// Data Type        Prefix   Key Format            Value Type
// =============================================================
// User record      "u:"     u:<id uint64 BE>      user.User (JSON)
// Username index   "n:"     n:<username>          id (uint64 BE)
// ID counter       "cfg:"   cfg:next_id           uint64 (BE)
//
// IDs are encoded big-endian so that a prefix scan over "u:" returns users in
// creation order.

const (
	prefixUser     = "u:"
	prefixUsername = "n:"
)

var keyNextID = []byte("cfg:next_id")

func keyUser(id int64) []byte {
	key := make([]byte, len(prefixUser)+8)
	copy(key, prefixUser)
	binary.BigEndian.PutUint64(key[len(prefixUser):], uint64(id))
	return key
}

func keyUsername(username string) []byte {
	return []byte(prefixUsername + username)
}

func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeID(buf []byte) (int64, bool) {
	if len(buf) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(buf)), true
}
