//go:build !portaudio

package audio

// Capture is unavailable without the portaudio build tag.
type Capture struct{}

func NewCapture(sampleRate int) (*Capture, error) { return nil, ErrCaptureUnavailable }
func (c *Capture) Read() ([]int16, error)         { return nil, ErrCaptureUnavailable }
func (c *Capture) Close() error                   { return nil }
