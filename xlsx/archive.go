package xlsx

import (
	"archive/zip"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

// archive wraps one handle on the ZIP container. The file and the
// shared-strings loader each hold their own archive so their decompressors
// never share a handle.
type archive struct {
	f  *os.File
	zr *zip.Reader
}

func openArchive(path string) (*archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat archive")
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrBadArchive, "%s: %v", path, err)
	}
	return &archive{f: f, zr: zr}, nil
}

func (a *archive) close() error {
	return a.f.Close()
}

// locate finds a part by path. A single leading slash on either side is
// ignored, matching the loose references some producers write.
func (a *archive) locate(path string) *zip.File {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	for _, f := range a.zr.File {
		name := f.Name
		if len(name) > 0 && name[0] == '/' {
			name = name[1:]
		}
		if name == path {
			return f
		}
	}
	return nil
}

type iterStatus uint8

const (
	iterMore iterStatus = iota
	iterDone
	iterError
)

// decompressIter yields the decompressed bytes of one part in order.
// read returns the number of bytes written, zero at end; the terminal
// status distinguishes exhaustion from decompressor failure. At end the
// stored and computed CRC-32 are available for an equality check.
type decompressIter interface {
	read(p []byte) (int, iterStatus)
	storedCRC() uint32
	computedCRC() uint32
	err() error
	close() error
}

// partIter streams one ZIP part.
type partIter struct {
	rc     io.ReadCloser
	stored uint32
	crc    uint32
	status iterStatus
	rerr   error
}

func (a *archive) open(f *zip.File) (*partIter, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(ErrDecompression, "open part %s: %v", f.Name, err)
	}
	return &partIter{rc: rc, stored: f.CRC32}, nil
}

func (it *partIter) read(p []byte) (int, iterStatus) {
	if it.status != iterMore {
		return 0, it.status
	}
	n, err := it.rc.Read(p)
	if n > 0 {
		it.crc = crc32.Update(it.crc, crc32.IEEETable, p[:n])
	}
	switch {
	case err == nil:
		if n == 0 {
			return it.read(p)
		}
		return n, iterMore
	case err == io.EOF:
		if n > 0 {
			return n, iterMore
		}
		it.status = iterDone
		return 0, iterDone
	case err == zip.ErrChecksum:
		// the payload decompressed but the container's CRC disagrees; the
		// caller decides whether that is fatal
		it.status = iterDone
		return n, iterDone
	default:
		it.rerr = errors.Wrapf(ErrDecompression, "%v", err)
		it.status = iterError
		return n, iterError
	}
}

func (it *partIter) storedCRC() uint32   { return it.stored }
func (it *partIter) computedCRC() uint32 { return it.crc }
func (it *partIter) err() error          { return it.rerr }

func (it *partIter) close() error {
	return it.rc.Close()
}

// readPart extracts a whole part to memory. Used for the small metadata
// parts; worksheet and shared-string streams are consumed incrementally.
func (a *archive) readPart(f *zip.File) ([]byte, error) {
	it, err := a.open(f)
	if err != nil {
		return nil, err
	}
	defer it.close()
	buf := make([]byte, 0, f.UncompressedSize64)
	chunk := make([]byte, 32768)
	for {
		n, st := it.read(chunk)
		buf = append(buf, chunk[:n]...)
		switch st {
		case iterDone:
			return buf, nil
		case iterError:
			return nil, it.err()
		}
	}
}
