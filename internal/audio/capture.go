package audio

import "errors"

// CaptureFrames is the number of samples returned by one Capture.Read.
const CaptureFrames = 1024

// ErrCaptureUnavailable is returned by NewCapture when the binary was built
// without microphone support.
var ErrCaptureUnavailable = errors.New("audio: microphone capture unavailable (build with -tags portaudio)")
