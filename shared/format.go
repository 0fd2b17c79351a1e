package shared

import "strings"

// Key is the ordering domain of the store. Keys compare bytewise.
type Key string

type Entry struct {
	Key       Key
	Value     []byte
	Tombstone bool
}

func CompareKeys(k1, k2 Key) int {
	return strings.Compare(string(k1), string(k2))
}

// MinKey returns the smaller of two keys.
func MinKey(k1, k2 Key) Key {
	if k1 < k2 {
		return k1
	}
	return k2
}

// MaxKey returns the larger of two keys.
func MaxKey(k1, k2 Key) Key {
	if k1 > k2 {
		return k1
	}
	return k2
}
