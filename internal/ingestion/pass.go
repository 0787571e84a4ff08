package ingestion

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	sentinelerrors "cybervision-siem/internal/errors"
)

const readBufferSize = 64 * 1024

// Pass is one sequential read of the alert log from a stored offset to the
// current end of file. It is used scanner-style:
//
//	pass, err := OpenPass(path, cursor.Offset())
//	if err != nil { ... }
//	defer pass.Close()
//	for pass.Next() {
//		handle(pass.Line())
//	}
//	cursor.Set(pass.Offset())
//
// A trailing line without a newline is not yielded and not consumed; it is
// picked up by a later pass once the writer terminates it.
type Pass struct {
	path      string
	file      *os.File
	reader    *bufio.Reader
	start     int64
	offset    int64
	line      string
	err       error
	done      bool
	truncated bool
}

// OpenPass opens path and seeks to offset. If the file is now shorter than
// offset (rotated or truncated) the pass starts from 0 and Truncated reports true.
func OpenPass(path string, offset int64) (*Pass, error) {
	file, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, sentinelerrors.NewSourceNotFoundError(path)
		case errors.Is(err, fs.ErrPermission):
			return nil, sentinelerrors.NewSourcePermissionDeniedError(path)
		}
		return nil, sentinelerrors.NewSourceReadError(path, offset, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, sentinelerrors.NewSourceReadError(path, offset, err)
	}

	if offset < 0 {
		offset = 0
	}
	truncated := false
	if info.Size() < offset {
		offset = 0
		truncated = true
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, sentinelerrors.NewSourceReadError(path, offset, err)
	}

	return &Pass{
		path:      path,
		file:      file,
		reader:    bufio.NewReaderSize(file, readBufferSize),
		start:     offset,
		offset:    offset,
		truncated: truncated,
	}, nil
}

// Next advances to the next complete line. It returns false at end of file,
// on a read error (see Err) or after Close.
func (p *Pass) Next() bool {
	if p.done {
		return false
	}

	data, err := p.reader.ReadBytes('\n')
	if err != nil {
		// data holds an unterminated tail, if any; leave it for a later pass.
		p.done = true
		p.line = ""
		if !errors.Is(err, io.EOF) {
			p.err = sentinelerrors.NewSourceReadError(p.path, p.offset, err)
		}
		return false
	}

	p.offset += int64(len(data))
	p.line = strings.TrimSpace(string(data))
	return true
}

// Line returns the most recent line with surrounding whitespace removed.
func (p *Pass) Line() string {
	return p.line
}

// Err returns the first non-EOF read error.
func (p *Pass) Err() error {
	return p.err
}

// Offset returns the position just past the last yielded line. After Next
// returns false this is the starting point for the next pass.
func (p *Pass) Offset() int64 {
	return p.offset
}

// Start returns the offset the pass began at.
func (p *Pass) Start() int64 {
	return p.start
}

// Truncated reports whether the stored offset was past the end of the file.
func (p *Pass) Truncated() bool {
	return p.truncated
}

// Close releases the file handle. It is safe to call more than once.
func (p *Pass) Close() error {
	p.done = true
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
