package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/hchap1/rift/internal/node"
	"github.com/schollz/progressbar/v3"
)

// readImage loads an image file, showing progress on w for large files.
func readImage(path string, w io.Writer) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > node.DefaultMaxPacketSize {
		return nil, fmt.Errorf("%s is %d bytes, the limit is %d", path, info.Size(), node.DefaultMaxPacketSize)
	}

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("reading "+info.Name()),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetVisibility(info.Size() >= 1<<20),
	)

	var buf bytes.Buffer
	buf.Grow(int(info.Size()))
	if _, err := io.Copy(io.MultiWriter(&buf, bar), f); err != nil {
		return nil, err
	}
	_ = bar.Finish()
	return buf.Bytes(), nil
}
