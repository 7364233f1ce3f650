package ingest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// PDFReferenceNote is the parse error recorded on reference-only PDF statements
const PDFReferenceNote = "pdf statement stored for reference; not parsed"

// PDFPageCount reads the page count of a PDF statement and rewinds the body
func PDFPageCount(body io.ReadSeeker) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader crashed: %v", r)
		}
	}()

	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	defer body.Seek(0, io.SeekStart)

	readerAt, ok := body.(io.ReaderAt)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return 0, err
		}
		readerAt = bytes.NewReader(data)
	}

	r, err := pdf.NewReader(readerAt, size)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
