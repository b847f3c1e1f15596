package ntswire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds one frame's JSON body.
const MaxFrameSize = 8 << 20

// Conn exchanges length-prefixed JSON frames over one stream. The read and
// write sides may be used from different goroutines, but each side serves one
// caller at a time.
type Conn struct {
	r    *bufio.Reader
	w    *bufio.Writer
	in   []byte
	out  bytes.Buffer
	json *json.Encoder
}

func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		r: bufio.NewReaderSize(rw, 32<<10),
		w: bufio.NewWriterSize(rw, 32<<10),
	}
	c.json = json.NewEncoder(&c.out)
	c.json.SetEscapeHTML(false)
	return c
}

// Read decodes the next frame into v. Numbers decode as json.Number so
// 64-bit integers survive.
func (c *Conn) Read(v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	switch {
	case n == 0:
		return fmt.Errorf("ntswire: empty frame")
	case n > MaxFrameSize:
		return fmt.Errorf("ntswire: frame of %d bytes exceeds %d", n, MaxFrameSize)
	}
	if cap(c.in) < int(n) {
		c.in = make([]byte, n)
	}
	body := c.in[:n]
	if _, err := io.ReadFull(c.r, body); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("ntswire: bad json: %w", err)
	}
	return nil
}

// Write sends v as one frame and flushes it.
func (c *Conn) Write(v any) error {
	c.out.Reset()
	if err := c.json.Encode(v); err != nil {
		return fmt.Errorf("ntswire: marshal: %w", err)
	}
	body := bytes.TrimSuffix(c.out.Bytes(), []byte{'\n'})
	if len(body) > MaxFrameSize {
		return fmt.Errorf("ntswire: frame of %d bytes exceeds %d", len(body), MaxFrameSize)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(body); err != nil {
		return err
	}
	return c.w.Flush()
}
