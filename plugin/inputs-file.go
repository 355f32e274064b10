package plugin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileSource replays a raw capture: interleaved 16-bit little-endian
// stereo, left = Q, right = I, exactly as the sound card delivers it.
type FileSource struct {
	MU         sync.Mutex
	Path       string
	file       *os.File
	chunkBytes int
	loop       bool
	Pace       time.Duration
	StopChan   chan struct{}
	WG         sync.WaitGroup
	err        error
}

func NewFileSource(o SourceOptions) (*FileSource, error) {
	if o.SampleRate <= 0 || o.ChunkSamples <= 0 {
		return nil, fmt.Errorf("file source needs a sample rate and chunk size, got %d and %d",
			o.SampleRate, o.ChunkSamples)
	}

	file, err := os.Open(o.FilePath)
	if err != nil {
		slog.Error("Could not open capture", slog.String("path", o.FilePath), slog.Any("Error", err))
		return nil, err
	}

	// validation
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	chunkBytes := 4 * o.ChunkSamples
	if info.Size() < int64(chunkBytes) {
		file.Close()
		slog.Error("Capture is shorter than one chunk", slog.Int64("size", info.Size()))
		return nil, errors.New("capture is shorter than one chunk")
	}

	pace := time.Duration(float64(o.ChunkSamples) / float64(o.SampleRate) * float64(time.Second))
	if pace <= 0 {
		pace = time.Millisecond
	}

	return &FileSource{
		Path:       o.FilePath,
		file:       file,
		chunkBytes: chunkBytes,
		loop:       o.Loop,
		Pace:       pace,
	}, nil
}

// ReadChunk returns the next whole chunk, rewinding at the end when looping.
// A trailing partial chunk is discarded.
func (f *FileSource) ReadChunk() ([]byte, error) {
	buf := make([]byte, f.chunkBytes)
	_, err := io.ReadFull(f.file, buf)
	if err == nil {
		return buf, nil
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if !f.loop {
		return nil, io.EOF
	}

	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind capture: %w", err)
	}
	if _, err := io.ReadFull(f.file, buf); err != nil {
		return nil, fmt.Errorf("read capture after rewind: %w", err)
	}
	return buf, nil
}

// Start delivers one chunk per chunk period until EOF, stop, or a sink error
func (f *FileSource) Start(sink Sink) error {
	f.MU.Lock()
	if f.StopChan != nil {
		f.MU.Unlock()
		return fmt.Errorf("file source already started")
	}
	f.StopChan = make(chan struct{})
	stop := f.StopChan
	f.MU.Unlock()

	ticker := time.NewTicker(f.Pace)
	f.WG.Add(1)
	go func() {
		defer f.WG.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				chunk, err := f.ReadChunk()
				if errors.Is(err, io.EOF) {
					slog.Info("Capture replay finished", slog.String("path", f.Path))
					return
				}
				if err == nil {
					err = sink(chunk, false)
				}
				if err != nil {
					slog.Error("File source stopped", slog.Any("Error", err))
					f.MU.Lock()
					f.err = err
					f.MU.Unlock()
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (f *FileSource) Stop() error {
	f.MU.Lock()
	stop := f.StopChan
	f.StopChan = nil
	f.MU.Unlock()

	if stop != nil {
		close(stop)
		f.WG.Wait()
	}
	return nil
}

func (f *FileSource) Close() error {
	f.Stop()
	return f.file.Close()
}

// Err is the error that ended delivery, if any
func (f *FileSource) Err() error {
	f.MU.Lock()
	defer f.MU.Unlock()
	return f.err
}

func (f *FileSource) Type() string { return "file" }
