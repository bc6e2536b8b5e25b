// Package muid implements a generator for Monotonically Unique IDs (MUIDs).
// MUIDs are 64-bit values inspired by Twitter's Snowflake IDs:
//
//	[timestamp (milliseconds since epoch)] [machine ID] [counter]
//
// The default layout spends 41 bits on the timestamp, 10 bits on the machine
// and leaves 13 bits of counter, which is plenty for the ids handed out to
// state machines and events. IDs from one Generator are strictly increasing.
package muid

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the bit layout of a Generator. Zero fields take the
// values of DefaultConfig.
type Config struct {
	MachineID       uint64
	TimestampBitLen int
	MachineIDBitLen int
	// Epoch in unix milliseconds.
	Epoch int64
}

// DefaultConfig derives the machine id from the hostname, falling back to
// random bits when the hostname is unavailable.
var DefaultConfig = sync.OnceValue(func() Config {
	config := Config{
		TimestampBitLen: 41,
		MachineIDBitLen: 10,
		Epoch:           1700000000000,
	}
	mask := uint64(1)<<config.MachineIDBitLen - 1
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		var b [8]byte
		_, _ = rand.Read(b[:])
		config.MachineID = binary.BigEndian.Uint64(b[:]) & mask
		return config
	}
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(hostname))
	config.MachineID = hash.Sum64() & mask
	return config
})

var defaultGenerator = sync.OnceValue(func() *Generator {
	return NewGenerator(DefaultConfig())
})

// MUID represents a Monotonically Unique ID.
type MUID uint64

// String returns the base32 representation of the MUID.
func (m MUID) String() string {
	return strconv.FormatUint(uint64(m), 32)
}

// Generator hands out MUIDs. It is safe for concurrent use.
type Generator struct {
	machineID      uint64
	epoch          int64
	counterBits    int
	counterMask    uint64
	timestampShift int
	machineShift   int
	// state packs the last timestamp (upper bits) and counter (lower bits).
	state atomic.Uint64
}

// NewGenerator creates a generator for the given layout.
func NewGenerator(config Config) *Generator {
	defaults := DefaultConfig()
	if config.TimestampBitLen <= 0 {
		config.TimestampBitLen = defaults.TimestampBitLen
	}
	if config.MachineIDBitLen <= 0 {
		config.MachineIDBitLen = defaults.MachineIDBitLen
	}
	if config.Epoch <= 0 {
		config.Epoch = defaults.Epoch
	}
	if config.MachineID == 0 {
		config.MachineID = defaults.MachineID
	}
	counterBits := 64 - config.TimestampBitLen - config.MachineIDBitLen
	generator := &Generator{
		machineID:      config.MachineID & (uint64(1)<<config.MachineIDBitLen - 1),
		epoch:          config.Epoch,
		counterBits:    counterBits,
		counterMask:    uint64(1)<<counterBits - 1,
		timestampShift: config.MachineIDBitLen + counterBits,
		machineShift:   counterBits,
	}
	return generator
}

// ID generates a new MUID. Clock regressions reuse the last timestamp and a
// counter overflow borrows the next millisecond, so IDs never go backwards.
func (g *Generator) ID() MUID {
	for {
		now := uint64(time.Now().UnixMilli() - g.epoch)
		previous := g.state.Load()
		last := previous >> g.counterBits
		counter := previous & g.counterMask
		switch {
		case now > last:
			counter = 1
		case counter >= g.counterMask:
			now = last + 1
			counter = 1
		default:
			now = last
			counter++
		}
		if g.state.CompareAndSwap(previous, now<<g.counterBits|counter) {
			return MUID(now<<g.timestampShift | g.machineID<<g.machineShift | counter)
		}
	}
}

// Make generates a new MUID from the default generator.
func Make() MUID {
	return defaultGenerator().ID()
}

// MakeString generates a new MUID from the default generator and returns it
// in base32.
func MakeString() string {
	return Make().String()
}
