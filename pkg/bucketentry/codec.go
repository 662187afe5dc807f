package bucketentry

import (
	"encoding/binary"
	"fmt"
	"io"

	"bucketnode/pkg/dberrors"
	"bucketnode/pkg/ledger"
)

// record layout, little-endian throughout:
//
//	[1 byte kind]
//	KindMeta: [4 bytes ledgerVersion]
//	KindInit, KindLive: [4 bytes keyLen][keyLen bytes key][4 bytes dataLen][dataLen bytes data]
//	KindDead: [4 bytes keyLen][keyLen bytes key]
//
// There is no per-record length prefix around the whole record: callers
// read entries back to back until EOF, the same way the teacher's TLV
// encoder frames one tag+value at a time rather than a whole-message length.

// Encode appends the canonical binary form of e to w.
func Encode(w io.Writer, e Entry) error {
	if _, err := w.Write([]byte{byte(e.Kind)}); err != nil {
		return fmt.Errorf("bucketentry: write kind: %w", err)
	}

	switch e.Kind {
	case KindMeta:
		return writeUint32(w, e.Meta.LedgerVersion)
	case KindInit, KindLive:
		if err := writeBytes(w, e.Live.Key.Raw); err != nil {
			return err
		}
		return writeBytes(w, e.Live.Data)
	case KindDead:
		return writeBytes(w, e.Dead.Raw)
	default:
		return fmt.Errorf("bucketentry: encode: unknown kind %d", e.Kind)
	}
}

// Decode reads one entry from r. Returns io.EOF (unwrapped) when r is
// exhausted at a record boundary.
func Decode(r io.Reader) (Entry, error) {
	var kindBuf [1]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("bucketentry: read kind: %w", err)
	}

	switch Kind(kindBuf[0]) {
	case KindMeta:
		v, err := readUint32(r)
		if err != nil {
			return Entry{}, err
		}
		return Meta(v), nil
	case KindInit, KindLive:
		key, err := readBytes(r)
		if err != nil {
			return Entry{}, err
		}
		data, err := readBytes(r)
		if err != nil {
			return Entry{}, err
		}
		e := ledger.Entry{Key: ledger.Key{Raw: key}, Data: data}
		if Kind(kindBuf[0]) == KindInit {
			return Init(e), nil
		}
		return Live(e), nil
	case KindDead:
		key, err := readBytes(r)
		if err != nil {
			return Entry{}, err
		}
		return Dead(ledger.Key{Raw: key}), nil
	default:
		return Entry{}, fmt.Errorf("%w: unknown entry kind %d", dberrors.ErrBucketCorrupt, kindBuf[0])
	}
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("bucketentry: write uint32: %w", err)
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("bucketentry: write bytes: %w", err)
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read uint32: %v", dberrors.ErrBucketCorrupt, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read bytes: %v", dberrors.ErrBucketCorrupt, err)
	}
	return buf, nil
}
