package voice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/josephcopenhaver/tempo-bot/internal/service"
)

// pcmStream yields 48kHz stereo s16le samples. Wait reports how the
// producer exited and must only be called once reading has stopped.
type pcmStream interface {
	io.Reader
	Wait() error
}

type pcmOpener func(ctx context.Context, streamURL string) (pcmStream, error)

func ffmpegArgs(streamURL string, volume float64) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-loglevel", "error",
		"-i", streamURL,
		"-vn",
		"-filter:a", "volume=" + strconv.FormatFloat(volume, 'f', -1, 64),
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(NumChannels),
		"pipe:1",
	}
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *bytes.Buffer
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(s.stderr.String())
		if msg == "" {
			return errors.Wrap(err, "ffmpeg failed")
		}

		return errors.Wrapf(err, "ffmpeg failed: %s", msg)
	}

	return nil
}

// ffmpegOpener starts an ffmpeg process that transcodes the stream url to
// raw pcm on its stdout. The process is killed when ctx is done.
func ffmpegOpener(ffmpegPath string, volume float64) pcmOpener {
	return func(ctx context.Context, streamURL string) (pcmStream, error) {

		cmd := exec.CommandContext(ctx, ffmpegPath, ffmpegArgs(streamURL, volume)...)

		stderr := &bytes.Buffer{}
		cmd.Stdin = nil
		cmd.Stderr = stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create ffmpeg stdout pipe")
		}

		if err := cmd.Start(); err != nil {
			return nil, errors.Wrap(err, "failed to start ffmpeg")
		}

		return &ffmpegStream{
			cmd:    cmd,
			stdout: stdout,
			stderr: stderr,
		}, nil
	}
}

// sendFrames reads pcm frames, encodes them and hands every packet to send
// until the input ends or ctx is done.
//
// Returns nil on a clean end of input or on cancellation; other failures
// are marked as playback errors.
func sendFrames(ctx context.Context, r io.Reader, enc frameEncoder, send func(context.Context, []byte) error) error {

	in := bufio.NewReaderSize(r, 16384)
	pcm := make([]int16, FrameSize*NumChannels)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := binary.Read(in, binary.LittleEndian, pcm)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF || ctx.Err() != nil {
				return nil
			}

			return errors.Mark(errors.Wrap(err, "failed to read pcm frame"), service.ErrPlayback)
		}

		packet, err := enc.Encode(pcm, FrameSize, MaxOpusBytes)
		if err != nil {
			return errors.Mark(errors.Wrap(err, "failed to encode opus frame"), service.ErrPlayback)
		}

		if err := send(ctx, packet); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errors.Mark(errors.Wrap(err, "failed to send opus frame"), service.ErrPlayback)
		}
	}
}
