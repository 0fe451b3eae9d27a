package rawwrite

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"testing"

	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/protocol"
)

type bytesSource struct {
	*bytes.Reader
}

func (bytesSource) Close() error { return nil }

func newSource(data []byte) func(string) (Source, error) {
	return func(string) (Source, error) {
		return bytesSource{bytes.NewReader(data)}, nil
	}
}

func pseudoRandom(size int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, size)
	r.Read(buf)
	return buf
}

func TestWriteHappyPath(t *testing.T) {
	const size = 20 << 20 // 20 MiB
	data := pseudoRandom(size, 1)
	fake := device.NewFake(size + 1<<20)

	var frames []protocol.Frame
	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
		OnProgress: func(f protocol.Frame) { frames = append(frames, f) },
	}

	res, err := Write(`\\.\PhysicalDrive1`, "image.img", nil, opts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Job.BytesWritten != size {
		t.Fatalf("BytesWritten = %d, want %d", res.Job.BytesWritten, size)
	}
	got := fake.Bytes()[:size]
	if !bytes.Equal(got, data) {
		t.Fatal("device contents do not match source")
	}

	if len(frames) < 2 {
		t.Fatalf("expected at least start/end progress frames, got %d", len(frames))
	}
	first, last := frames[0], frames[len(frames)-1]
	if first.Now != 0 || first.Total != size {
		t.Fatalf("first frame = %+v", first)
	}
	if last.Now != size || last.Total != size {
		t.Fatalf("last frame = %+v", last)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Now < frames[i-1].Now {
			t.Fatalf("progress not monotonically non-decreasing at %d: %+v -> %+v", i, frames[i-1], frames[i])
		}
	}
}

func TestMBRWrittenLast(t *testing.T) {
	const size = 4096
	data := pseudoRandom(size, 2)
	fake := device.NewFake(size + 512)

	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
	}
	if _, err := Write(`\\.\PhysicalDrive2`, "image.img", nil, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	order := fake.WriteOrder
	if len(order) == 0 {
		t.Fatal("no writes recorded")
	}
	lastOffset := order[len(order)-1][0]
	if lastOffset != 0 {
		t.Fatalf("last write must be at offset 0 (the MBR), got offset %d", lastOffset)
	}
	for i, w := range order[:len(order)-1] {
		if w[0] < 512 {
			t.Fatalf("write %d at offset %d occurred before the MBR but is below the 512-byte boundary", i, w[0])
		}
	}
}

func TestShortSourceDisablesMBRLast(t *testing.T) {
	data := []byte("too short")
	fake := device.NewFake(4096)

	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
	}
	res, err := Write("X:", "image.img", nil, opts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Job.BytesWritten != int64(len(data)) {
		t.Fatalf("BytesWritten = %d, want %d", res.Job.BytesWritten, len(data))
	}
	got := fake.Bytes()[:len(data)]
	if !bytes.Equal(got, data) {
		t.Fatal("short source content mismatch")
	}
}

func TestSectorAlignmentPadsTailAndTracksUnpaddedLength(t *testing.T) {
	// Source length is not a multiple of the sector size.
	size := 512*3 + 100
	data := pseudoRandom(size, 3)
	fake := device.NewFake(4096 + 512)

	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
	}
	res, err := Write("X:", "image.img", nil, opts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Job.BytesWritten != int64(size) {
		t.Fatalf("BytesWritten = %d, want unpadded length %d", res.Job.BytesWritten, size)
	}
	for _, w := range fake.WriteOrder {
		if w[1]%512 != 0 {
			t.Fatalf("write length %d is not sector aligned", w[1])
		}
	}
}

func TestWriteCallsBringOnlineForAParsedPhysicalTarget(t *testing.T) {
	const size = 4096
	data := pseudoRandom(size, 5)
	fake := device.NewFake(size + 512)

	var bringOnlineCalls, unlockCalls int
	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
		BringOnline: func(t device.Target) []string {
			bringOnlineCalls++
			return nil
		},
		UnlockFallback: func(t device.Target) { unlockCalls++ },
	}
	if _, err := Write(`\\.\PhysicalDrive1`, "image.img", nil, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if bringOnlineCalls != 1 {
		t.Fatalf("BringOnline calls = %d, want 1", bringOnlineCalls)
	}
	if unlockCalls != 0 {
		t.Fatalf("UnlockFallback calls = %d, want 0", unlockCalls)
	}
}

func TestWriteFallsBackToUnlockWhenDriveNumberUnparsed(t *testing.T) {
	const size = 4096
	data := pseudoRandom(size, 6)
	fake := device.NewFake(size + 512)

	var bringOnlineCalls, unlockCalls int
	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
		BringOnline: func(t device.Target) []string {
			bringOnlineCalls++
			return nil
		},
		UnlockFallback: func(t device.Target) { unlockCalls++ },
	}
	// A physical-drive path whose trailing digits don't parse: IsPhysical
	// true, DriveNumberParsed false, per device.ParseTarget.
	if _, err := Write(`\\.\PhysicalDriveX`, "image.img", nil, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if bringOnlineCalls != 0 {
		t.Fatalf("BringOnline calls = %d, want 0 (should have fallen back to unlock)", bringOnlineCalls)
	}
	if unlockCalls != 1 {
		t.Fatalf("UnlockFallback calls = %d, want 1", unlockCalls)
	}
}

func TestWriteHashIsSourceOrder(t *testing.T) {
	const size = 1 << 20
	data := pseudoRandom(size, 4)
	fake := device.NewFake(size + 512)

	opts := Options{
		OpenSource: newSource(data),
		OpenDevice: func(device.Target) (device.Raw, error) { return fake, nil },
		SectorSize: func(device.Target) int { return 512 },
	}
	res, err := Write(`\\.\PhysicalDrive3`, "image.img", nil, opts)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := sha256.Sum256(data)
	got := res.Job.SourceHash()
	if fmt.Sprintf("%x", want) != fmt.Sprintf("%x", got) {
		t.Fatal("rolling hash does not match plain source-order sha256")
	}
}
