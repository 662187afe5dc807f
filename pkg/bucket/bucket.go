// Package bucket implements Bucket, the immutable content-addressed file
// that holds a sorted run of BucketEntry records. Grounded on the
// teacher's SSTable (pkg/persistence/sstable.go): same Open/Close/file
// lifecycle, but with the block index, bloom filter and block cache
// dropped — this domain has no point-lookup or range-query read path, so
// a Bucket is only ever read by sequential iteration during a merge.
package bucket

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/dberrors"

	"github.com/zhangyunhao116/skipmap"
)

// EmptyHash is the name of the well-known empty bucket, the identity
// element of the merge operation.
const EmptyHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Bucket is an immutable, content-addressed, sorted run of BucketEntry
// records persisted to a single file named bucket-<hash>.xdr.
type Bucket struct {
	hash string
	path string

	file *os.File
}

// Hash returns the lowercase hex sha256 of the bucket's serialized
// contents, used both as its filename and its identity in merge inputs.
func (b *Bucket) Hash() string { return b.hash }

// Path returns the bucket's file path on disk.
func (b *Bucket) Path() string { return b.path }

// Empty reports whether this is the well-known zero-entry bucket.
func (b *Bucket) Empty() bool { return b.hash == EmptyHash }

// FileName returns the canonical file name for a bucket with the given
// content hash.
func FileName(hash string) string {
	return fmt.Sprintf("bucket-%s.xdr", hash)
}

// Open opens an existing bucket file in dir by its content hash. It does
// not validate the hash against the file contents; callers that need
// that guarantee should call Verify. The well-known empty bucket has no
// backing file and is returned without touching disk.
func Open(dir, hash string) (*Bucket, error) {
	if hash == EmptyHash {
		return &Bucket{hash: hash, path: filepath.Join(dir, FileName(hash))}, nil
	}
	path := filepath.Join(dir, FileName(hash))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open bucket %s: %v", dberrors.ErrIoError, hash, err)
	}
	return &Bucket{hash: hash, path: path, file: f}, nil
}

// Close releases the bucket's open file handle, if any.
func (b *Bucket) Close() error {
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	if err != nil {
		return fmt.Errorf("%w: close bucket %s: %v", dberrors.ErrIoError, b.hash, err)
	}
	return nil
}

// NewIterator returns a fresh sequential reader over the bucket's
// entries, positioned at the start of the file. The returned iterator
// owns its own file handle so multiple iterators over the same bucket
// (e.g. one per merge level) can run concurrently.
func (b *Bucket) NewIterator() (*Iterator, error) {
	if b.Empty() {
		return &Iterator{done: true}, nil
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reopen bucket %s for iteration: %v", dberrors.ErrIoError, b.hash, err)
	}
	return &Iterator{file: f, r: bufio.NewReader(f)}, nil
}

// Iterator reads Bucket entries back to back in on-disk (sorted) order.
type Iterator struct {
	file *os.File
	r    *bufio.Reader
	cur  bucketentry.Entry
	err  error
	done bool
}

// Next advances to the next entry, returning false at EOF or on error.
// Check Err after Next returns false to distinguish the two.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	e, err := bucketentry.Decode(it.r)
	if err == io.EOF {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	it.cur = e
	return true
}

// Entry returns the entry most recently yielded by Next.
func (it *Iterator) Entry() bucketentry.Entry { return it.cur }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the iterator's file handle.
func (it *Iterator) Close() error {
	if it.file == nil {
		return nil
	}
	if err := it.file.Close(); err != nil {
		return fmt.Errorf("%w: close bucket iterator: %v", dberrors.ErrIoError, err)
	}
	return nil
}

// Fresh builds a new Bucket directly from a ledger-close batch, without
// going through the merge engine. Used for level 0's incoming batch
// bucket and to write out each merge's output. Entries are deduplicated
// and ordered with a skipmap the same way the teacher's memtable sorts a
// pending write batch before flush, then written out as one sequential
// pass. A batch with no ledger entries yields the well-known empty
// bucket, with no META record, at any protocol.
func Fresh(dir string, protocol uint32, entries []bucketentry.Entry) (*Bucket, error) {
	sorted := skipmap.NewFunc[string, bucketentry.Entry](func(a, b string) bool { return a < b })

	hasMeta := protocol >= bucketentry.FirstProtocolWithInitEntry
	if hasMeta {
		sorted.Store("", bucketentry.Meta(protocol))
	}
	for _, e := range entries {
		if e.Kind == bucketentry.KindMeta {
			continue
		}
		sorted.Store(string(e.Key().Raw), e)
	}
	if n := sorted.Len(); n == 0 || (hasMeta && n == 1) {
		return Open(dir, EmptyHash)
	}

	ordered := make([]bucketentry.Entry, 0, sorted.Len())
	sorted.Range(func(_ string, v bucketentry.Entry) bool {
		ordered = append(ordered, v)
		return true
	})
	sort.SliceStable(ordered, func(i, j int) bool { return bucketentry.Less(ordered[i], ordered[j]) })

	return writeBucket(dir, ordered)
}

// writeBucket serializes entries in order to a temp file, hashes it,
// then renames it into place under its content-derived name. Renaming
// after hashing avoids ever publishing a bucket file under the wrong name.
func writeBucket(dir string, ordered []bucketentry.Entry) (*Bucket, error) {
	if len(ordered) == 0 {
		return Open(dir, EmptyHash)
	}

	tmp, err := os.CreateTemp(dir, "bucket-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp bucket file: %v", dberrors.ErrIoError, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	h := sha256.New()
	w := io.MultiWriter(tmp, h)
	bw := bufio.NewWriter(w)
	for _, e := range ordered {
		if err := bucketentry.Encode(bw, e); err != nil {
			tmp.Close()
			return nil, err
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: flush bucket file: %v", dberrors.ErrIoError, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: close bucket temp file: %v", dberrors.ErrIoError, err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	finalPath := filepath.Join(dir, FileName(hash))
	if _, err := os.Stat(finalPath); err == nil {
		// identical content already on disk under this hash
		return Open(dir, hash)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("%w: publish bucket file %s: %v", dberrors.ErrIoError, hash, err)
	}

	return Open(dir, hash)
}

// Verify reopens the bucket, re-hashes its contents, and reports whether
// the name matches. The manager's restart preflight
// (archivestate.CheckMissingBucketFiles) only checks that files exist and
// does not call Verify.
func Verify(dir, hash string) error {
	if hash == EmptyHash {
		return nil
	}
	f, err := os.Open(filepath.Join(dir, FileName(hash)))
	if err != nil {
		return fmt.Errorf("%w: verify bucket %s: %v", dberrors.ErrIoError, hash, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: hash bucket %s: %v", dberrors.ErrIoError, hash, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != hash {
		return fmt.Errorf("%w: bucket %s content hashes to %s", dberrors.ErrBucketCorrupt, hash, got)
	}
	return nil
}
