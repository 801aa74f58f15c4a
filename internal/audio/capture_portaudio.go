//go:build portaudio

package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Capture records mono 16-bit audio from the default input device.
type Capture struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

// NewCapture opens and starts the default input device at sampleRate.
func NewCapture(sampleRate int) (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	c := &Capture{buf: make([]int16, CaptureFrames)}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), CaptureFrames, c.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

// Read blocks until one buffer of CaptureFrames samples is available and returns a copy.
func (c *Capture) Read() ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, ErrCaptureUnavailable
	}
	if err := c.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]int16, len(c.buf))
	copy(out, c.buf)
	return out, nil
}

// Close stops the device and releases portaudio.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	_ = c.stream.Stop()
	err := c.stream.Close()
	c.stream = nil
	portaudio.Terminate()
	return err
}
