// Package bloom implements the probabilistic term-membership filter used to
// reject absent terms before any shard store lookup. A filter never reports a
// false negative: if Contains returns false the term was never added. False
// positives are possible and bounded by the bit-array size and hash count.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/bits-and-blooms/bitset"

	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
)

const (
	// MagicBytes identifies a valid .bloom filter file.
	MagicBytes    uint32 = 0x4B494246
	FormatVersion uint32 = 1
	headerSize    int    = 28
)

// Filter is a fixed-size Bloom filter. Add and Contains are safe for
// concurrent use: build workers add terms from many goroutines while the
// filter is queried by searches.
type Filter struct {
	mu        sync.RWMutex
	size      uint64
	numHashes int
	bits      *bitset.BitSet
}

// New allocates a zeroed filter with the given bit count and hash count.
func New(size uint64, numHashes int) *Filter {
	if size == 0 {
		size = 1
	}
	if numHashes <= 0 {
		numHashes = 1
	}
	return &Filter{
		size:      size,
		numHashes: numHashes,
		bits:      bitset.New(uint(size)),
	}
}

// Add sets the numHashes bit positions derived from term.
func (f *Filter) Add(term string) {
	positions := f.positions(term)
	f.mu.Lock()
	for _, pos := range positions {
		f.bits.Set(pos)
	}
	f.mu.Unlock()
}

// Contains reports whether every bit position derived from term is set.
// A false result is authoritative; a true result may be a false positive.
func (f *Filter) Contains(term string) bool {
	positions := f.positions(term)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, pos := range positions {
		if !f.bits.Test(pos) {
			return false
		}
	}
	return true
}

// Size returns the filter's bit-array size.
func (f *Filter) Size() uint64 {
	return f.size
}

// NumHashes returns the filter's hash count.
func (f *Filter) NumHashes() int {
	return f.numHashes
}

// positions derives the probe positions for term: one seeded SHA-256 digest
// per hash index, reduced mod the bit-array size.
func (f *Filter) positions(term string) []uint {
	positions := make([]uint, f.numHashes)
	for i := 0; i < f.numHashes; i++ {
		digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", term, i)))
		positions[i] = uint(binary.BigEndian.Uint64(digest[:8]) % f.size)
	}
	return positions
}

// Save serialises the filter to path. The file is self-describing (magic,
// version, size, hash count, bit payload, CRC) and written atomically via a
// temp file and rename.
func (f *Filter) Save(path string) error {
	f.mu.RLock()
	payload, err := f.bits.MarshalBinary()
	f.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling bit array: %w", err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(header[8:16], f.size)
	binary.LittleEndian.PutUint32(header[16:20], uint32(f.numHashes))
	binary.LittleEndian.PutUint64(header[20:28], uint64(len(payload)))

	tmpPath := path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp bloom file: %w", err)
	}
	defer tmp.Close()

	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("writing bloom header: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		return fmt.Errorf("writing bloom payload: %w", err)
	}
	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, crc32.ChecksumIEEE(payload))
	if _, err := tmp.Write(footer); err != nil {
		return fmt.Errorf("writing bloom footer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing bloom file: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming bloom file: %w", err)
	}
	return nil
}

// Load reads a filter previously written by Save. A malformed file yields
// ErrCorruptIndex.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bloom file %s: %w", path, err)
	}
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("%w: bloom file %s truncated (%d bytes)", kierrors.ErrCorruptIndex, path, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x in %s", kierrors.ErrCorruptIndex, magic, path)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported bloom format version %d", kierrors.ErrCorruptIndex, version)
	}
	size := binary.LittleEndian.Uint64(data[8:16])
	numHashes := int(binary.LittleEndian.Uint32(data[16:20]))
	payloadLen := binary.LittleEndian.Uint64(data[20:28])
	if size == 0 || numHashes <= 0 {
		return nil, fmt.Errorf("%w: invalid bloom parameters size=%d hashes=%d", kierrors.ErrCorruptIndex, size, numHashes)
	}
	if uint64(len(data)) != uint64(headerSize)+payloadLen+4 {
		return nil, fmt.Errorf("%w: bloom payload length mismatch in %s", kierrors.ErrCorruptIndex, path)
	}
	payload := data[headerSize : headerSize+int(payloadLen)]
	checksum := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("%w: bloom checksum mismatch in %s", kierrors.ErrCorruptIndex, path)
	}

	bits := bitset.New(uint(size))
	if err := bits.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: parsing bit array: %v", kierrors.ErrCorruptIndex, err)
	}
	return &Filter{
		size:      size,
		numHashes: numHashes,
		bits:      bits,
	}, nil
}
