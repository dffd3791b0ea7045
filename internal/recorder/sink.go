package recorder

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
)

// FileLayout is the timestamp layout of recording file names.
const FileLayout = "2006.01.02.15.04.05"

// DefaultCodec is the fourcc used when none is configured.
const DefaultCodec = "MJPG"

// FileOpener writes each session to an AVI file in Dir named after the session start.
type FileOpener struct {
	Dir   string
	Codec string
}

// Open creates Dir if needed and starts a video file.
func (o FileOpener) Open(start time.Time, size image.Point, fps float64) (Sink, string, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, "", fmt.Errorf("invalid frame size %v", size)
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create recordings dir: %w", err)
	}

	codec := o.Codec
	if codec == "" {
		codec = DefaultCodec
	}

	path := filepath.Join(o.Dir, start.Format(FileLayout)+".avi")
	w, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, "", fmt.Errorf("open %s: writer not opened", path)
	}

	return &videoSink{writer: w, size: size}, path, nil
}

// videoSink resizes frames that do not match the size the file was opened with.
type videoSink struct {
	writer *gocv.VideoWriter
	size   image.Point
}

func (s *videoSink) Write(f capture.Frame) error {
	if f.Empty() {
		return errors.New("empty frame")
	}
	if f.Size() == s.size {
		return s.writer.Write(*f.Mat)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*f.Mat, &resized, s.size, 0, 0, gocv.InterpolationLinear)
	return s.writer.Write(resized)
}

func (s *videoSink) Close() error {
	return s.writer.Close()
}
