package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var testSequence = uint64(time.Now().UnixNano() % 1000000)

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueName generates a unique name with given prefix
// Example: UniqueName("region") -> "region_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueRegion generates a region name no other test uses
func UniqueRegion() string {
	return UniqueName("it_region")
}

// UniqueTile generates a tile id in the MGRS shape
func UniqueTile() string {
	return fmt.Sprintf("%02dXYZ", NextSequence()%60+1)
}

// UniqueString generates a random unique string (UUID)
func UniqueString() string {
	return uuid.New().String()
}
