package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/internal/playback"
	"github.com/drgolem/streamsound/internal/registry"
	"github.com/drgolem/streamsound/pkg/ftc"
	"github.com/drgolem/streamsound/pkg/pcm"
	"github.com/drgolem/streamsound/pkg/wavcodec"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <audio_file>",
	Short: "Stream a WAV file to an audio device",
	Long: `Stream a WAV file to an audio device through the realtime/worker FIFO
pair, with sample-accurate start/stop scheduling and loop control.

Examples:
  # Play a file from its first frame
  streamsound play tone.wav

  # Start 5000 frames into global time, stop at frame 48000
  streamsound play --start 5000 --stop 48000 tone.wav

  # Loop the whole file forever
  streamsound play --looplength self --stop never tone.wav

  # Loop a 1500-frame window starting 200 frames into the file
  streamsound play --looplength 1500 --loopstart 200 --stop never tone.wav

Schedule values are global frame counts against the stream's anchor; pass
--time <name> to share an anchor between concurrent streams.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

var (
	playDevice     int
	playBuffer     uint64
	playFrames     int
	playOnset      int64
	playStart      string
	playStop       string
	playLoopLength string
	playLoopStart  int64
	playAnchor     string
	playType       string
)

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().IntVarP(&playDevice, "device", "d", 1, "Audio output device index")
	playCmd.Flags().Uint64VarP(&playBuffer, "buffer", "b", 256*1024, "FIFO size in bytes")
	playCmd.Flags().IntVarP(&playFrames, "frames", "f", 512, "Audio frames per buffer")
	playCmd.Flags().Int64Var(&playOnset, "onset", 0, "Frames to skip at the start of the file")
	playCmd.Flags().StringVar(&playStart, "start", "now", "Start time: 'now' or a global frame")
	playCmd.Flags().StringVar(&playStop, "stop", "end", "Stop time: 'end', 'never', 'now', or a global frame")
	playCmd.Flags().StringVar(&playLoopLength, "looplength", "self", "Loop length: 'self' or a frame count")
	playCmd.Flags().Int64Var(&playLoopStart, "loopstart", 0, "Loop start offset within the file, in frames")
	playCmd.Flags().StringVar(&playAnchor, "time", "self", "Anchor name ('self' for a private anchor)")
	playCmd.Flags().StringVar(&playType, "type", "", "Force a registered codec instead of sniffing the header")
}

// probeFormat reads just enough of the file to size the audio stream before
// the engine's worker opens it for real.
func probeFormat(reg *registry.Registry, fileName string) (*wavcodec.SoundfileDescriptor, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sniff := make([]byte, reg.Codecs.MinHeaderSize())
	f.ReadAt(sniff, 0)
	codec, err := reg.Codecs.Detect(sniff)
	if err != nil {
		return nil, err
	}
	sf := &wavcodec.SoundfileDescriptor{File: f}
	if err := codec.ReadHeader(sf); err != nil {
		return nil, err
	}
	sf.File = nil
	return sf, nil
}

func parseStartSpec(s string) (playback.StartSpec, error) {
	if s == "now" {
		return playback.StartSpec{Now: true}, nil
	}
	frame, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return playback.StartSpec{}, fmt.Errorf("invalid start time %q", s)
	}
	return playback.StartSpec{Frame: frame}, nil
}

func parseStopSpec(s string) (playback.StopSpec, error) {
	switch s {
	case "now":
		return playback.StopSpec{Mode: playback.StopNow}, nil
	case "end":
		return playback.StopSpec{Mode: playback.StopAtLoopEnd}, nil
	case "never":
		return playback.StopSpec{Mode: playback.StopNever}, nil
	}
	frame, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return playback.StopSpec{}, fmt.Errorf("invalid stop time %q", s)
	}
	return playback.StopSpec{Mode: playback.StopAt, Frame: frame}, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	fileName := args[0]

	startSpec, err := parseStartSpec(playStart)
	if err != nil {
		return err
	}
	stopSpec, err := parseStopSpec(playStop)
	if err != nil {
		return err
	}

	reg := registry.New()
	sf, err := probeFormat(reg, fileName)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", fileName, err)
	}

	slog.Info("Audio file probed",
		"path", fileName,
		"sample_rate", sf.SampleRate,
		"channels", sf.Channels,
		"bytes_per_sample", sf.BytesPerSample)

	slog.Info("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	outParams := portaudio.PaStreamParameters{
		DeviceIndex:  playDevice,
		ChannelCount: sf.Channels,
		SampleFormat: portaudio.SampleFmtInt16,
	}
	stream, err := portaudio.NewStream(outParams, float64(sf.SampleRate))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	if err := stream.Open(playFrames); err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	defer func() {
		stream.StopStream()
		stream.Close()
	}()

	caps := newLoggingHost()
	stopDeferred := make(chan struct{})
	go caps.RunDeferred(stopDeferred)
	defer close(stopDeferred)

	clock := hostapi.NewBlockClock()
	anchor := reg.ResolveAnchor(playAnchor, clock)

	engine := reg.NewPlayback(caps, anchor, clock, playBuffer, playFrames, sf.Channels, sf.BytesPerFrame)
	defer engine.Close()

	engine.Open(fileName, playOnset, playType)
	deadline := time.Now().Add(5 * time.Second)
	for engine.State() != playback.StateStartup2 {
		if engine.State() == playback.StateIdle {
			return fmt.Errorf("failed to open %s: %w", fileName, engine.LastError())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out opening %s", fileName)
		}
		time.Sleep(time.Millisecond)
	}

	if playLoopLength == "self" {
		engine.SetLoopLength(true, ftc.Zero)
	} else {
		loopFrames, err := strconv.ParseInt(playLoopLength, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid loop length %q", playLoopLength)
		}
		engine.SetLoopLength(false, ftc.FromFrames(loopFrames))
	}
	engine.SetLoopStart(ftc.FromFrames(playLoopStart))
	engine.Stop(stopSpec)
	if err := engine.Start(startSpec); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Playback started")
	status := engine.Status()
	slog.Debug("Stream status",
		"state", status.State.String(),
		"file", status.FileName,
		"total_frames", status.TotalFrames,
		"start_time", status.StartTime)

	out := make([][]float32, sf.Channels)
	for i := range out {
		out[i] = make([]float32, playFrames)
	}
	format := pcm.Format{BytesPerSample: 2}
	wire := make([]byte, playFrames*sf.Channels*2)

	for engine.State() != playback.StateIdle {
		select {
		case sig := <-sigChan:
			slog.Info("Signal received, stopping playback", "signal", sig)
			engine.Stop(playback.StopSpec{Mode: playback.StopImmediate})
		default:
		}

		engine.Process(out)
		if err := pcm.Encode(out, playFrames, sf.Channels, format, wire); err != nil {
			return err
		}
		if err := stream.Write(playFrames, wire); err != nil {
			slog.Warn("Stream write failed", "error", err)
		}
		clock.Advance(int64(playFrames))
	}

	if err := engine.LastError(); err != nil {
		slog.Warn("Playback finished with error", "error", err)
	} else {
		slog.Info("Playback completed successfully")
	}
	return nil
}
