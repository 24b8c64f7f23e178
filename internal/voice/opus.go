package voice

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/gopus"
)

// transcoding constants
const (
	SampleRate    = 48000 // samples per second per channel
	NumChannels   = 2
	FrameSize     = 960 // int16 samples per channel in each 20ms audio frame
	BytesPerInt16 = 2
	MaxOpusBytes  = FrameSize * NumChannels * BytesPerInt16
)

//nolint:gochecknoinits
func init() {
	// verify on startup MaxOpusBytes is correct

	if BytesPerInt16 != binary.Size(int16(0))/binary.Size(byte(0)) {
		panic(errors.New("BytesPerInt16 constant is wrong somehow"))
	}
}

// frameEncoder turns one interleaved pcm frame into one opus packet.
type frameEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

func newOpusEncoder() (frameEncoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, NumChannels, gopus.Audio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}

	return enc, nil
}
