// Package ingestion reads new lines from the Wazuh alert log.
//
// Two readers are provided. Pass is a finite, single-use scan from a byte
// offset to the current end of file, re-created every poll cycle. Follower
// keeps the file open and delivers lines as they are appended.
// Both only ever yield newline-terminated lines.
package ingestion

// Cursor is the byte offset of the first unprocessed byte in the alert log.
// It lives in memory only and is owned by a single loop, so it carries no lock.
type Cursor struct {
	offset int64
}

// NewCursor returns a cursor at offset (negative values clamp to 0).
func NewCursor(offset int64) *Cursor {
	c := &Cursor{}
	c.Set(offset)
	return c
}

// Offset returns the current position.
func (c *Cursor) Offset() int64 {
	return c.offset
}

// Set moves the cursor.
func (c *Cursor) Set(offset int64) {
	if offset < 0 {
		offset = 0
	}
	c.offset = offset
}

// Reset moves the cursor back to the start of the file.
func (c *Cursor) Reset() {
	c.offset = 0
}
