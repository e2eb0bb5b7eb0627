package eventstore

import "crypto/md5" //nolint:gosec // not used cryptographically; matches the source engine's lock-key derivation

// Hash64 computes a 64-bit hash of value by taking the first 8 bytes of its
// MD5 digest and reinterpreting them as a big-endian signed integer. Postgres
// advisory locks take a bigint key, and this is the stable, cross-process way
// to turn an arbitrary "partition/streamID" string into one.
func Hash64(value string) int64 {
	sum := md5.Sum([]byte(value)) //nolint:gosec
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(sum[i])
	}
	return int64(h)
}
