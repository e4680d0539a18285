package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/drgolem/streamsound/internal/capture"
	"github.com/drgolem/streamsound/internal/hostapi"
	"github.com/drgolem/streamsound/internal/registry"
	"github.com/drgolem/streamsound/pkg/pcm"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record <output_file>",
	Short: "Capture an audio feed to a WAV file",
	Long: `Capture an audio feed to a WAV file through the realtime/worker FIFO
pair, with threshold triggering, pre-roll, and sample-accurate stop
scheduling. The feed is read block-by-block from --source, standing in for
the host's live input bus.

Examples:
  # Record the whole feed
  streamsound record --source feed.wav take.wav

  # Begin recording at the first sample whose magnitude reaches 0.1
  streamsound record --source feed.wav --threshold 0.1 take.wav

  # Record exactly frames 5000..48000 of global time
  streamsound record --source feed.wav --start 5000 --stop 48000 take.wav

  # 24-bit output at 48kHz
  streamsound record --source feed.wav --bytes 3 --rate 48000 take.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recordSource    string
	recordBuffer    uint64
	recordFrames    int
	recordStart     string
	recordStop      int64
	recordThreshold float64
	recordBytes     int
	recordRate      int
	recordBig       bool
	recordAnchor    string
	recordType      string
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recordSource, "source", "", "Input feed WAV file (required)")
	recordCmd.MarkFlagRequired("source")
	recordCmd.Flags().Uint64VarP(&recordBuffer, "buffer", "b", 256*1024, "FIFO size in bytes (bounds pre-roll)")
	recordCmd.Flags().IntVarP(&recordFrames, "frames", "f", 512, "Audio frames per buffer")
	recordCmd.Flags().StringVar(&recordStart, "start", "now", "Start time: 'now' or a global frame")
	recordCmd.Flags().Int64Var(&recordStop, "stop", -1, "Stop at this global frame (-1: run until the feed ends)")
	recordCmd.Flags().Float64Var(&recordThreshold, "threshold", 0, "Begin on the first sample reaching this magnitude")
	recordCmd.Flags().IntVar(&recordBytes, "bytes", 2, "Output bytes per sample (2, 3, 4, or 8)")
	recordCmd.Flags().IntVar(&recordRate, "rate", 0, "Output sample rate (0: the feed's rate)")
	recordCmd.Flags().BoolVar(&recordBig, "big", false, "Request big-endian output samples")
	recordCmd.Flags().StringVar(&recordAnchor, "time", "self", "Anchor name ('self' for a private anchor)")
	recordCmd.Flags().StringVar(&recordType, "type", "", "Force a registered codec instead of the filename extension")
}

func parseCaptureStart(s string, threshold float64) (capture.StartSpec, error) {
	if threshold > 0 {
		return capture.StartSpec{Mode: capture.StartAtThreshold, Threshold: float32(threshold)}, nil
	}
	if s == "now" {
		return capture.StartSpec{Mode: capture.StartNow}, nil
	}
	frame, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return capture.StartSpec{}, fmt.Errorf("invalid start time %q", s)
	}
	return capture.StartSpec{Mode: capture.StartAt, Frame: frame}, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	outName := args[0]

	reg := registry.New()
	src, err := probeFormat(reg, recordSource)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", recordSource, err)
	}

	rate := recordRate
	if rate == 0 {
		rate = src.SampleRate
	}
	startSpec, err := parseCaptureStart(recordStart, recordThreshold)
	if err != nil {
		return err
	}

	slog.Info("Capture configured",
		"source", recordSource,
		"output", outName,
		"channels", src.Channels,
		"sample_rate", rate,
		"bytes_per_sample", recordBytes)

	caps := newLoggingHost()
	stopDeferred := make(chan struct{})
	go caps.RunDeferred(stopDeferred)
	defer close(stopDeferred)

	clock := hostapi.NewBlockClock()
	anchor := reg.ResolveAnchor(recordAnchor, clock)

	bytesPerFrame := src.Channels * recordBytes
	engine := reg.NewCapture(caps, anchor, clock, recordBuffer, recordFrames, src.Channels, bytesPerFrame)
	defer engine.Close()

	opts := capture.OpenOptions{
		Channels:       src.Channels,
		BytesPerSample: recordBytes,
		SampleRate:     rate,
		BigEndian:      recordBig,
		TypeHint:       recordType,
	}
	engine.Open(outName, opts)
	deadline := time.Now().Add(5 * time.Second)
	for engine.State() != capture.StateIdle {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out creating %s", outName)
		}
		time.Sleep(time.Millisecond)
	}
	if err := engine.LastError(); err != nil {
		return fmt.Errorf("failed to create %s: %w", outName, err)
	}

	if recordStop >= 0 {
		engine.Stop(capture.StopSpec{Frame: recordStop})
	}
	if err := engine.Start(startSpec); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Capture started")
	status := engine.Status()
	slog.Debug("Stream status",
		"state", status.State.String(),
		"file", status.FileName,
		"start_time", status.StartTime,
		"pre_roll", status.PreRoll)

	feed, err := os.Open(recordSource)
	if err != nil {
		return err
	}
	defer feed.Close()

	in := make([][]float32, src.Channels)
	for i := range in {
		in[i] = make([]float32, recordFrames)
	}
	srcFormat := pcm.Format{BytesPerSample: src.BytesPerSample, BigEndian: src.BigEndian}
	raw := make([]byte, recordFrames*src.BytesPerFrame)

	totalFrames := src.ByteLimit / int64(src.BytesPerFrame)
	var pos int64
	for pos < totalFrames {
		select {
		case sig := <-sigChan:
			slog.Info("Signal received, stopping capture", "signal", sig)
			engine.Stop(capture.StopSpec{Now: true})
		default:
		}
		if engine.State() == capture.StateIdle || engine.State() == capture.StateIdle2 {
			break
		}

		want := int64(recordFrames)
		if pos+want > totalFrames {
			want = totalFrames - pos
		}
		n, err := feed.ReadAt(raw[:want*int64(src.BytesPerFrame)], src.HeaderSize+pos*int64(src.BytesPerFrame))
		if n == 0 && err != nil {
			break
		}
		got := n / src.BytesPerFrame
		for i := range in {
			clear(in[i])
		}
		if _, err := pcm.Decode(raw[:n], got, src.Channels, srcFormat, in); err != nil {
			return err
		}

		block := in
		if got < recordFrames {
			block = make([][]float32, len(in))
			for i := range in {
				block[i] = in[i][:got]
			}
		}
		engine.Process(block)
		clock.Advance(int64(got))
		pos += int64(got)
	}

	engine.Stop(capture.StopSpec{Now: true})
	deadline = time.Now().Add(5 * time.Second)
	for engine.State() != capture.StateIdle {
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	slog.Info("Capture finished",
		"output", outName,
		"frames_written", engine.FramesWritten())
	return engine.LastError()
}
