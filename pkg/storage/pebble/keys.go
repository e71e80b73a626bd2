package pebblestore

import (
	"encoding/binary"
	"time"

	"github.com/jdziat/durable-queue/pkg/security"
)

const (
	prefixJob      = "j/"
	prefixReady    = "r/"
	prefixDelayed  = "d/"
	prefixReserved = "x/"
	prefixBatch    = "b/"
	prefixQueue    = "q/"
)

// sep ends a queue or batch name inside a key. Names never contain it.
const sep = 0x00

func jobKey(id string) []byte {
	return append([]byte(prefixJob), id...)
}

// setPrefix returns {prefix}{name}\x00, the range of one queue's set.
func setPrefix(prefix, name string) []byte {
	key := make([]byte, 0, len(prefix)+len(name)+1)
	key = append(key, prefix...)
	key = append(key, name...)
	return append(key, sep)
}

// invertPriority maps a signed priority onto an unsigned value that sorts
// higher priorities first. Priorities outside the int32 range saturate.
func invertPriority(priority int) uint32 {
	return ^(uint32(int32(security.ClampPriority(priority))) ^ 0x80000000)
}

func unixMs(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// readyKey format: r/{queue}\x00{^priority}{available_ms}{id}
func readyKey(queue string, priority int, availableAt time.Time, id string) []byte {
	key := setPrefix(prefixReady, queue)
	key = binary.BigEndian.AppendUint32(key, invertPriority(priority))
	key = binary.BigEndian.AppendUint64(key, unixMs(availableAt))
	return append(key, id...)
}

// ceilUnixMs rounds up, so a timed entry never comes due before t.
func ceilUnixMs(t time.Time) uint64 {
	ms := unixMs(t)
	if t.Sub(time.UnixMilli(int64(ms))) > 0 {
		ms++
	}
	return ms
}

// delayedKey format: d/{queue}\x00{ceil(available_ms)}{id}
func delayedKey(queue string, availableAt time.Time, id string) []byte {
	key := setPrefix(prefixDelayed, queue)
	key = binary.BigEndian.AppendUint64(key, ceilUnixMs(availableAt))
	return append(key, id...)
}

// reservedKey format: x/{queue}\x00{reserved_ms}{id}
func reservedKey(queue string, reservedAt time.Time, id string) []byte {
	key := setPrefix(prefixReserved, queue)
	key = binary.BigEndian.AppendUint64(key, unixMs(reservedAt))
	return append(key, id...)
}

// batchKey format: b/{batch}\x00{id}
func batchKey(batchID, id string) []byte {
	return append(setPrefix(prefixBatch, batchID), id...)
}

func queueKey(queue string) []byte {
	return append([]byte(prefixQueue), queue...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// timedBound returns the key after every entry of a timed set whose time
// is at or before t.
func timedBound(prefix []byte, t time.Time) []byte {
	key := append([]byte(nil), prefix...)
	return binary.BigEndian.AppendUint64(key, unixMs(t)+1)
}

// timedEntry splits a delayed or reserved key into its time and job id.
func timedEntry(prefix, key []byte) (uint64, string) {
	rest := key[len(prefix):]
	return binary.BigEndian.Uint64(rest[:8]), string(rest[8:])
}

// readyID extracts the job id from a ready key.
func readyID(prefix, key []byte) string {
	return string(key[len(prefix)+12:])
}

// timedQueue extracts the queue name from a delayed or reserved key taken
// from a scan over every queue.
func timedQueue(prefix string, key []byte) (string, []byte) {
	rest := key[len(prefix):]
	for i, c := range rest {
		if c == sep {
			return string(rest[:i]), key[:len(prefix)+i+1]
		}
	}
	return "", nil
}
