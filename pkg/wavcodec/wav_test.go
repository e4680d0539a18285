package wavcodec

import (
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T, name string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	w := NewWAV()
	f := openTemp(t, "test.wav")

	sf := &SoundfileDescriptor{File: f}
	headerSize, err := w.WriteHeader(sf, 2, 44100, 2, false, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if headerSize != 44 {
		t.Fatalf("header size = %d, want 44", headerSize)
	}

	// pad with fake PCM data
	if _, err := f.WriteAt(make([]byte, 1000*2*2), headerSize); err != nil {
		t.Fatal(err)
	}

	sf2 := &SoundfileDescriptor{File: f}
	if err := w.ReadHeader(sf2); err != nil {
		t.Fatal(err)
	}
	if sf2.Channels != 2 || sf2.SampleRate != 44100 || sf2.BytesPerSample != 2 {
		t.Fatalf("unexpected descriptor: %+v", sf2)
	}
	if sf2.HeaderSize != 44 {
		t.Fatalf("HeaderSize = %d, want 44", sf2.HeaderSize)
	}
	if sf2.ByteLimit != 1000*2*2 {
		t.Fatalf("ByteLimit = %d, want %d", sf2.ByteLimit, 1000*2*2)
	}
}

func TestUpdateHeaderAfterUnknownLengthWrite(t *testing.T) {
	w := NewWAV()
	f := openTemp(t, "cap.wav")

	sf := &SoundfileDescriptor{File: f}
	headerSize, err := w.WriteHeader(sf, 1, 48000, 2, false, 0)
	if err != nil {
		t.Fatal(err)
	}

	framesWritten := int64(500)
	if _, err := f.WriteAt(make([]byte, framesWritten*2), headerSize); err != nil {
		t.Fatal(err)
	}
	if err := w.UpdateHeader(sf, framesWritten); err != nil {
		t.Fatal(err)
	}

	sf2 := &SoundfileDescriptor{File: f}
	if err := w.ReadHeader(sf2); err != nil {
		t.Fatal(err)
	}
	if sf2.ByteLimit != framesWritten*2 {
		t.Fatalf("ByteLimit after update = %d, want %d", sf2.ByteLimit, framesWritten*2)
	}
}

func TestIsHeaderAndExtensions(t *testing.T) {
	w := NewWAV()
	good := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	if !w.IsHeader(good) {
		t.Fatal("expected valid RIFF/WAVE to match")
	}
	if w.IsHeader([]byte("not a wav file header...")) {
		t.Fatal("expected non-WAV header to not match")
	}

	if !w.HasExtension("song.WAV") {
		t.Fatal("extension matching should be case-insensitive")
	}
	if w.HasExtension("song.mp3") {
		t.Fatal("mp3 should not match the wav provider")
	}
	w.AddExtension("wv")
	if !w.HasExtension("song.wv") {
		t.Fatal("AddExtension should register new suffix")
	}
}

func TestRegistryFirstMatchAndMinHeaderSize(t *testing.T) {
	r := NewRegistry()
	wav := NewWAV()
	r.Register(wav)

	if r.Default() != wav {
		t.Fatal("first registered provider should be default")
	}
	if r.MinHeaderSize() != 44 {
		t.Fatalf("MinHeaderSize = %d, want 44", r.MinHeaderSize())
	}

	got, err := r.Detect([]byte("RIFF\x00\x00\x00\x00WAVEfmt "))
	if err != nil || got != wav {
		t.Fatalf("Detect should resolve to the wav provider, err=%v", err)
	}

	if _, err := r.Detect([]byte("not a header")); err == nil {
		t.Fatal("expected Detect to fail for unrecognized header")
	}
}

func TestFloatFormatRoundTrip(t *testing.T) {
	w := NewWAV()
	f := openTemp(t, "float.wav")

	sf := &SoundfileDescriptor{File: f}
	headerSize, err := w.WriteHeader(sf, 1, 44100, 4, false, 10)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteAt(make([]byte, 10*4), headerSize)

	sf2 := &SoundfileDescriptor{File: f}
	if err := w.ReadHeader(sf2); err != nil {
		t.Fatal(err)
	}
	if sf2.BytesPerSample != 4 {
		t.Fatalf("expected 4-byte float samples, got %d", sf2.BytesPerSample)
	}
}
