// Package handle packs a provider index into the top byte of a sensor handle.
//
// A proxy handle looks like:
//
//	31        24 23                       0
//	+-----------+--------------------------+
//	| provider  |   provider-local handle  |
//	+-----------+--------------------------+
//
// Providers own the low 24 bits. The proxy owns the top byte.
package handle

const (
	// IndexShift is the number of bits below the provider index.
	IndexShift = 24

	// IndexMask covers the provider index bits.
	IndexMask int32 = -1 << IndexShift

	// MaxProviders is the number of distinct provider indices a handle can carry.
	MaxProviders = 1 << (32 - IndexShift)
)

// Encode tags a provider-local handle with providerIndex.
func Encode(local int32, providerIndex int) int32 {
	return local | int32(uint32(providerIndex)<<IndexShift)
}

// ProviderIndex extracts the provider index from h. The top byte is read as
// unsigned, so a negative handle yields an index past any realistic provider
// count and is rejected by range checks.
func ProviderIndex(h int32) int {
	return int(uint32(h) >> IndexShift)
}

// Strip clears the provider index, returning the provider-local handle.
func Strip(h int32) int32 {
	return h &^ IndexMask
}

// IsEncodable reports whether the index field of local is clear.
func IsEncodable(local int32) bool {
	return local&IndexMask == 0
}
