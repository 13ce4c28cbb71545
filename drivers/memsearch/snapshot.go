package memsearch

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Fliegerweb/searchsync/x"
)

// Snapshot files are a fixed header followed by one data block holding a
// msgpack encoded snapshotData. The block is lz4 compressed unless lz4
// reports the data as incompressible, which the flags record.
const (
	magicBytes    = "SSNP"
	formatVersion = 1

	flagCompressed = 1 << 0
)

type fileHeader struct {
	Magic    [4]byte
	Version  uint8
	Flags    uint8
	Reserved [2]byte
	RawSize  uint64
}

type snapshotData struct {
	Indexes  map[string]map[string]x.Document  `msgpack:"indexes"`
	Settings map[string]map[string]interface{} `msgpack:"settings,omitempty"`
}

func writeHeader(w io.Writer, flags uint8, rawSize int) error {
	header := fileHeader{
		Magic:   [4]byte{'S', 'S', 'N', 'P'},
		Version: formatVersion,
		Flags:   flags,
		RawSize: uint64(rawSize),
	}
	return binary.Write(w, binary.LittleEndian, header)
}

func readHeader(r io.Reader) (*fileHeader, error) {
	var header fileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "memsearch: reading snapshot header")
	}
	if string(header.Magic[:]) != magicBytes {
		return nil, errors.Errorf("memsearch: not a snapshot file, magic %q", header.Magic)
	}
	if header.Version != formatVersion {
		return nil, errors.Errorf("memsearch: unsupported snapshot version %d", header.Version)
	}
	return &header, nil
}

// Snapshot writes the full backend state to a file.
func (ms *MemSearch) Snapshot(filename string) error {
	ms.mu.RLock()
	data := snapshotData{Indexes: ms.indexes, Settings: ms.settings}
	raw, err := msgpack.Marshal(&data)
	ms.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "memsearch: encoding snapshot")
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(raw, compressed, hashTable[:])
	if err != nil {
		return errors.Wrap(err, "memsearch: compressing snapshot")
	}
	block := compressed[:n]
	flags := uint8(flagCompressed)
	if n == 0 || n >= len(raw) {
		block = raw
		flags = 0
	}

	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "memsearch: creating snapshot file")
	}
	defer file.Close()
	if err := writeHeader(file, flags, len(raw)); err != nil {
		return errors.Wrap(err, "memsearch: writing snapshot header")
	}
	if _, err := file.Write(block); err != nil {
		return errors.Wrap(err, "memsearch: writing snapshot data")
	}
	return nil
}

// Restore replaces the full backend state with a snapshot read from a file.
func (ms *MemSearch) Restore(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "memsearch: opening snapshot file")
	}
	defer file.Close()

	header, err := readHeader(file)
	if err != nil {
		return err
	}
	block, err := io.ReadAll(file)
	if err != nil {
		return errors.Wrap(err, "memsearch: reading snapshot data")
	}

	raw := block
	if header.Flags&flagCompressed != 0 {
		raw = make([]byte, header.RawSize)
		n, err := lz4.UncompressBlock(block, raw)
		if err != nil {
			return errors.Wrap(err, "memsearch: decompressing snapshot")
		}
		raw = raw[:n]
	}

	var data snapshotData
	if err := msgpack.Unmarshal(raw, &data); err != nil {
		return errors.Wrap(err, "memsearch: decoding snapshot")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.indexes = data.Indexes
	if ms.indexes == nil {
		ms.indexes = make(map[string]map[string]x.Document)
	}
	ms.settings = data.Settings
	if ms.settings == nil {
		ms.settings = make(map[string]map[string]interface{})
	}
	return nil
}
