package rawwrite

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/protocol"
)

const (
	chunkSize     = 10 << 20 // 10 MiB
	mbrSize       = 512
	progressEvery = 200 * time.Millisecond
)

// Source is what the writer reads the image from.
type Source interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Options wires the writer's platform-dependent steps (disk prep, device
// open, sector-size probe, rescan) behind small function values so the
// core MBR-last streaming algorithm is identical on every platform and
// fully testable with device.Fake off Windows.
type Options struct {
	OpenSource func(path string) (Source, error)
	OpenDevice func(t device.Target) (device.Raw, error)
	SectorSize func(t device.Target) int

	// Prepare runs the administrative disk-offline sequence before the
	// device is opened. Returns warnings; a non-nil error fails the job.
	Prepare func(t device.Target) ([]string, error)
	// ControlIOCTLs runs the allow-extended-DASD/lock/dismount sequence.
	// Failures are warnings only.
	ControlIOCTLs func(d device.Raw) []string
	// BringOnline runs the post-write online/rescan/assign sequence. A
	// failure here is a warning: the write already succeeded.
	BringOnline func(t device.Target) []string
	// UnlockFallback runs a plain unlock when BringOnline could not run
	// because the drive number was unparsed.
	UnlockFallback func(t device.Target)

	// OnProgress receives each non-suppressed progress frame as the write
	// proceeds. May be nil.
	OnProgress func(protocol.Frame)

	ChunkSize int64 // overridable for tests; defaults to 10 MiB
}

func (o Options) chunkSize() int64 {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return chunkSize
}

// Result is what a successful Write returns.
type Result struct {
	Job      *Job
	Warnings []string
}

// Write runs the full lock/stream/flush/unlock sequence for one WRITE
// command.
func Write(devicePath, sourcePath string, logger *slog.Logger, opts Options) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	job := newJob(devicePath, sourcePath, logger)
	var warnings []string

	// Prepare the disk offline (administrative utility).
	if opts.Prepare != nil {
		w, err := opts.Prepare(job.Target)
		warnings = append(warnings, w...)
		if err != nil {
			return nil, fmt.Errorf("rawwrite: prepare: %w", err)
		}
	}

	// Open source, get its size.
	src, err := opts.OpenSource(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("rawwrite: open source: %w", err)
	}
	defer src.Close()
	total, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("rawwrite: stat source: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rawwrite: rewind source: %w", err)
	}
	job.BytesTotal = total

	// Open device, retrying three access modes.
	dev, err := opts.OpenDevice(job.Target)
	if err != nil {
		return nil, fmt.Errorf("rawwrite: open device: %w", err)
	}
	defer dev.Close()

	// Control IOCTLs — warnings only.
	if opts.ControlIOCTLs != nil {
		warnings = append(warnings, opts.ControlIOCTLs(dev)...)
	}

	// Probe sector size.
	sectorSize := 4096
	if opts.SectorSize != nil {
		sectorSize = opts.SectorSize(job.Target)
	}
	if sectorSize <= 0 {
		sectorSize = 4096
	}

	// Progress: emit (0, total) immediately, then a 200ms-cadence ticker
	// reading bytes_written atomically, decoupled from the write loop
	// itself so a slow chunk write never delays the next tick.
	var bytesWritten int64
	done := make(chan struct{})
	reporter := newProgressReporter(opts.OnProgress)
	reporter.emit(protocol.KindWrite, 0, total)
	go func() {
		ticker := time.NewTicker(progressEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reporter.emit(protocol.KindWrite, atomic.LoadInt64(&bytesWritten), total)
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	mbrLast := true
	mbr := make([]byte, mbrSize)
	n, rerr := io.ReadFull(src, mbr)
	if rerr != nil {
		// Source shorter than 512 bytes: MBR-last disabled, sequential
		// fallback.
		mbrLast = false
		mbr = mbr[:n]
	}
	job.MBRBlock = append([]byte(nil), mbr...)
	job.RollingHash.Write(mbr)
	atomic.AddInt64(&bytesWritten, int64(n))
	job.BytesWritten = atomic.LoadInt64(&bytesWritten)

	if mbrLast {
		if err := streamBody(src, dev, job, &bytesWritten, sectorSize, opts.chunkSize()); err != nil {
			return nil, err
		}
		if err := writeMBRLast(dev, mbr, sectorSize); err != nil {
			return nil, err
		}
	} else {
		// Sequential fallback: the "MBR" bytes already read are just the
		// start of the stream; write them at offset 0, then continue.
		if err := writeSectorAligned(dev, 0, mbr, sectorSize); err != nil {
			return nil, fmt.Errorf("rawwrite: sequential fallback initial write: %w", err)
		}
		if err := streamSequential(src, dev, job, &bytesWritten, int64(n), sectorSize, opts.chunkSize()); err != nil {
			return nil, err
		}
	}

	// Flush and close (close happens via defer).
	if err := dev.Flush(); err != nil {
		return nil, fmt.Errorf("rawwrite: flush device: %w", err)
	}

	reporter.emit(protocol.KindWrite, total, total)

	// Bring the disk back online and assign its partitions a drive
	// letter, unless the target was a physical drive whose number never
	// parsed — in that case there is no disk number to select, so skip
	// straight to a best-effort unlock instead.
	skipOnline := job.Target.IsPhysical && !job.Target.DriveNumberParsed
	switch {
	case !skipOnline && opts.BringOnline != nil:
		warnings = append(warnings, opts.BringOnline(job.Target)...)
	case opts.UnlockFallback != nil:
		opts.UnlockFallback(job.Target)
	}

	job.BytesWritten = total
	return &Result{Job: job, Warnings: warnings}, nil
}

// streamBody implements the MBR-last path: body bytes are written at
// their source offsets, starting at device offset 512 (bytes_written
// already counts the 512 MBR bytes held back), reserving the first
// sector for the MBR written afterward.
func streamBody(src io.Reader, dev device.Raw, job *Job, bytesWritten *int64, sectorSize int, chunk int64) error {
	buf := make([]byte, chunk)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := writeChunkAt(dev, atomic.LoadInt64(bytesWritten), buf[:n], sectorSize); err != nil {
				return fmt.Errorf("rawwrite: write body chunk: %w", err)
			}
			job.RollingHash.Write(buf[:n])
			atomic.AddInt64(bytesWritten, int64(n))
			job.BytesWritten = atomic.LoadInt64(bytesWritten)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("rawwrite: read source: %w", rerr)
		}
	}
}

// streamSequential implements the short-source fallback: data continues
// to land at its natural offset (no +512 shift) because there is no MBR
// held back to write last.
func streamSequential(src io.Reader, dev device.Raw, job *Job, bytesWritten *int64, startOffset int64, sectorSize int, chunk int64) error {
	buf := make([]byte, chunk)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			off := atomic.LoadInt64(bytesWritten)
			if err := writeChunkAt(dev, off, buf[:n], sectorSize); err != nil {
				return fmt.Errorf("rawwrite: write sequential chunk: %w", err)
			}
			job.RollingHash.Write(buf[:n])
			atomic.AddInt64(bytesWritten, int64(n))
			job.BytesWritten = atomic.LoadInt64(bytesWritten)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("rawwrite: read source: %w", rerr)
		}
	}
}

// writeChunkAt retries once after a 1s sleep on failure.
func writeChunkAt(dev device.Raw, off int64, data []byte, sectorSize int) error {
	err := writeSectorAligned(dev, off, data, sectorSize)
	if err == nil {
		return nil
	}
	time.Sleep(1 * time.Second)
	return writeSectorAligned(dev, off, data, sectorSize)
}

// writeSectorAligned rounds the write length up to a multiple of
// sectorSize, zero-filling the tail, since the device rejects unaligned
// writes. The unpadded length is what the caller tracks for
// bytes_written and for the rolling hash.
func writeSectorAligned(dev device.Raw, off int64, data []byte, sectorSize int) error {
	padded := padToSector(data, sectorSize)
	_, err := dev.WriteAt(padded, off)
	return err
}

func padToSector(data []byte, sectorSize int) []byte {
	if sectorSize <= 0 {
		return data
	}
	rem := len(data) % sectorSize
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(sectorSize-rem))
	copy(padded, data)
	return padded
}

// writeMBRLast writes the stashed 512-byte MBR at device offset 0, sector
// aligned, with up to three attempts 500ms apart. Failure here fails the
// job.
func writeMBRLast(dev device.Raw, mbr []byte, sectorSize int) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		if err := writeSectorAligned(dev, 0, mbr, sectorSize); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("rawwrite: write MBR after 3 attempts: %w", lastErr)
}
