package verify

import (
	"bytes"
	"crypto/sha256"
	"math/rand"
	"testing"

	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/rawwrite"
)

type bytesSource struct{ *bytes.Reader }

func (bytesSource) Close() error { return nil }

// writeHandle is the writer's handle on the fixture device; closing it
// leaves the fake readable, as a re-opened drive is for VERIFY.
type writeHandle struct{ *device.Fake }

func (writeHandle) Close() error { return nil }

func writeFixture(t *testing.T, data []byte) *device.Fake {
	t.Helper()
	fake := device.NewFake(int64(len(data)) + 1<<20)
	opts := rawwrite.Options{
		OpenSource: func(string) (rawwrite.Source, error) { return bytesSource{bytes.NewReader(data)}, nil },
		OpenDevice: func(device.Target) (device.Raw, error) { return writeHandle{fake}, nil },
		SectorSize: func(device.Target) int { return 512 },
	}
	if _, err := rawwrite.Write(`\\.\PhysicalDrive9`, "image.img", nil, opts); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return fake
}

func TestVerifyMatchesAfterWrite(t *testing.T) {
	data := make([]byte, 2<<20)
	rand.New(rand.NewSource(7)).Read(data)
	fake := writeFixture(t, data)

	job := VerifyJob{
		Device:     fake,
		Total:      int64(len(data)),
		MBROffset:  512,
		SourceHash: sourceOrderHash(data),
	}
	ok, _, err := Run(job, nil, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Fatal("expected verify to succeed on unmodified device")
	}
}

func TestVerifyFailsAfterCorruption(t *testing.T) {
	data := make([]byte, 2<<20)
	rand.New(rand.NewSource(8)).Read(data)
	fake := writeFixture(t, data)

	fake.FlipBit(1048576, 0)

	job := VerifyJob{
		Device:     fake,
		Total:      int64(len(data)),
		MBROffset:  512,
		SourceHash: sourceOrderHash(data),
	}
	ok, _, err := Run(job, nil, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok {
		t.Fatal("expected verify to fail after corruption")
	}
}

func TestVerifyHonorsExpectedHashArgument(t *testing.T) {
	data := make([]byte, 4096)
	rand.New(rand.NewSource(9)).Read(data)
	fake := writeFixture(t, data)

	job := VerifyJob{
		Device:     fake,
		Total:      int64(len(data)),
		MBROffset:  512,
		SourceHash: sourceOrderHash(data),
	}
	wrongExpected := make([]byte, 32)
	ok, _, err := Run(job, wrongExpected, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok {
		t.Fatal("mismatched expectedHash argument must fail verify even though source_hash matches")
	}
}

func sourceOrderHash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
