package capture

import "testing"

func TestScanThreshold(t *testing.T) {
	tests := []struct {
		name       string
		channels   [][]float32
		threshold  float32
		wantOffset int
		wantFound  bool
	}{
		{
			name:      "all below threshold",
			channels:  [][]float32{{0.01, 0.02, 0.05}},
			threshold: 0.1,
		},
		{
			name:       "positive trigger mid-block",
			channels:   [][]float32{{0.01, 0.02, 0.5, 0.01}},
			threshold:  0.1,
			wantOffset: 2,
			wantFound:  true,
		},
		{
			name:       "negative excursion triggers too",
			channels:   [][]float32{{0.01, -0.5, 0.01}},
			threshold:  0.1,
			wantOffset: 1,
			wantFound:  true,
		},
		{
			name:       "any channel can trigger",
			channels:   [][]float32{{0.01, 0.01, 0.01}, {0.01, 0.3, 0.01}},
			threshold:  0.1,
			wantOffset: 1,
			wantFound:  true,
		},
		{
			name:       "exactly at threshold counts",
			channels:   [][]float32{{0.05, 0.1}},
			threshold:  0.1,
			wantOffset: 1,
			wantFound:  true,
		},
		{
			name:      "empty input",
			channels:  nil,
			threshold: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, found := ScanThreshold(tt.channels, tt.threshold)
			if found != tt.wantFound || offset != tt.wantOffset {
				t.Fatalf("ScanThreshold = (%d, %v), want (%d, %v)", offset, found, tt.wantOffset, tt.wantFound)
			}
		})
	}
}

func TestComputeOverdueBytes(t *testing.T) {
	tests := []struct {
		name                  string
		blockStart, startTime int64
		bytesPerFrame         int64
		fifoCapacity          uint64
		performed             uint64
		want                  uint64
	}{
		{
			name:       "not late at all",
			blockStart: 100, startTime: 100,
			bytesPerFrame: 2, fifoCapacity: 1024, performed: 1024,
			want: 0,
		},
		{
			name:       "fully recoverable",
			blockStart: 10300, startTime: 10000,
			bytesPerFrame: 2, fifoCapacity: 65536, performed: 768,
			want: 600,
		},
		{
			name:       "bounded by accumulated pre-roll",
			blockStart: 10300, startTime: 10000,
			bytesPerFrame: 2, fifoCapacity: 65536, performed: 128,
			want: 128,
		},
		{
			name:       "bounded by fifo capacity minus one frame",
			blockStart: 100000, startTime: 0,
			bytesPerFrame: 2, fifoCapacity: 1024, performed: 1024,
			want: 1022,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeOverdueBytes(tt.blockStart, tt.startTime, tt.bytesPerFrame, tt.fifoCapacity, tt.performed)
			if got != tt.want {
				t.Fatalf("ComputeOverdueBytes = %d, want %d", got, tt.want)
			}
		})
	}
}
