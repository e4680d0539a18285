package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/drgolem/streamsound/internal/registry"
	"github.com/drgolem/streamsound/pkg/pcm"

	"github.com/spf13/cobra"
	wav "github.com/youpy/go-wav"
)

var convertCmd = &cobra.Command{
	Use:   "convert <input_file>",
	Short: "Bulk-rewrite a WAV file's sample width or channel layout",
	Long: `Convert a WAV file's sample width, with optional mono downmix. Unlike
play and record this is a bulk, single-pass rewrite: the whole payload is
decoded, converted, and written out in one shot, no realtime scheduling
involved.

Examples:
  # Rewrite a 24-bit file as 16-bit
  streamsound convert --bytes 2 --out out.wav input.wav

  # Downmix to mono
  streamsound convert --mono --out mono.wav input.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var (
	convertOut   string
	convertBytes int
	convertMono  bool
)

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertOut, "out", "out_converted.wav", "Output WAV file path")
	convertCmd.Flags().IntVar(&convertBytes, "bytes", 2, "Output bytes per sample (2 or 3)")
	convertCmd.Flags().BoolVar(&convertMono, "mono", false, "Downmix output to mono (average channels)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	inName := args[0]

	if convertBytes != 2 && convertBytes != 3 {
		return fmt.Errorf("unsupported output width %d bytes per sample", convertBytes)
	}

	reg := registry.New()
	sf, err := probeFormat(reg, inName)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", inName, err)
	}

	f, err := os.Open(inName)
	if err != nil {
		return err
	}
	defer f.Close()

	frames := int(sf.ByteLimit / int64(sf.BytesPerFrame))
	raw := make([]byte, sf.ByteLimit)
	if _, err := f.ReadAt(raw, sf.HeaderSize); err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	slog.Info("Converting",
		"input", inName,
		"output", convertOut,
		"frames", frames,
		"input_bytes_per_sample", sf.BytesPerSample,
		"output_bytes_per_sample", convertBytes,
		"mono", convertMono)

	channels := make([][]float32, sf.Channels)
	for i := range channels {
		channels[i] = make([]float32, frames)
	}
	inFormat := pcm.Format{BytesPerSample: sf.BytesPerSample, BigEndian: sf.BigEndian}
	if _, err := pcm.Decode(raw, frames, sf.Channels, inFormat, channels); err != nil {
		return err
	}

	outChannels := sf.Channels
	if convertMono && sf.Channels > 1 {
		mono := make([]float32, frames)
		for i := 0; i < frames; i++ {
			var sum float32
			for _, ch := range channels {
				sum += ch[i]
			}
			mono[i] = sum / float32(sf.Channels)
		}
		channels = [][]float32{mono}
		outChannels = 1
	}

	outFormat := pcm.Format{BytesPerSample: convertBytes}
	payload := make([]byte, frames*outChannels*convertBytes)
	if err := pcm.Encode(channels, frames, outChannels, outFormat, payload); err != nil {
		return err
	}

	fOut, err := os.OpenFile(convertOut, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer fOut.Close()

	wavWriter := wav.NewWriter(fOut, uint32(frames), uint16(outChannels), uint32(sf.SampleRate), uint16(convertBytes*8))
	if _, err := wavWriter.Write(payload); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	slog.Info("Conversion complete", "output", convertOut, "frames", frames)
	return nil
}
