package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/rpi-imager/helper/internal/customize"
	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/diskutil"
	"github.com/rpi-imager/helper/internal/protocol"
	"github.com/rpi-imager/helper/internal/rawwrite"
	"github.com/rpi-imager/helper/internal/verify"
)

// handleFormat implements FORMAT as a bare format, without a subsequent
// write: run diskpart's clean/create script, then fat32format the
// assigned letter.
func handleFormat(drivePath string, logger *slog.Logger) (bool, error) {
	runner := diskutil.ExecRunner{Logger: logger}
	return formatTarget(device.ParseTarget(drivePath), runner, device.UsedDriveLetters)
}

// formatTarget is handleFormat's platform-independent core, split out so
// it can run against a diskutil.FakeRunner in tests. A physical-drive
// target carries no drive letter of its own (device.ParseTarget only
// ever populates DriveLetter for a drive-letter target), so one is
// picked here from usedLetters before the disk is cleaned/created and
// before fat32format runs against it.
func formatTarget(target device.Target, runner diskutil.Runner, usedLetters func() []string) (bool, error) {
	letter := target.DriveLetter
	if target.IsPhysical {
		if !target.DriveNumberParsed {
			return false, fmt.Errorf("format: could not determine disk number for %s", target.Path)
		}
		picked, err := diskutil.PickDriveLetter(usedLetters())
		if err != nil {
			return false, fmt.Errorf("format: %w", err)
		}
		letter = picked

		script := diskutil.CleanAndCreateScript(target.DriveNumber, letter)
		if err := diskutil.RunDiskpart(context.Background(), runner, script); err != nil {
			return false, fmt.Errorf("format: %w", err)
		}
	}
	if err := diskutil.RunFat32Format(context.Background(), runner, letter); err != nil {
		return false, fmt.Errorf("format: %w", err)
	}
	return true, nil
}

// handleWrite implements WRITE by wiring internal/rawwrite.Options to the
// current platform's hooks (platform_windows.go / platform_stub.go).
func handleWrite(drivePath, sourcePath string, logger *slog.Logger, onProgress func(protocol.Frame)) (bool, error) {
	hooks := newPlatformHooks(logger)
	opts := rawwrite.Options{
		OpenSource: func(path string) (rawwrite.Source, error) {
			return openSourceFile(path)
		},
		OpenDevice:     hooks.openDevice,
		SectorSize:     hooks.sectorSize,
		Prepare:        hooks.prepare,
		ControlIOCTLs:  hooks.controlIOCTLs,
		BringOnline:    hooks.bringOnline,
		UnlockFallback: hooks.unlockFallback,
		OnProgress:     onProgress,
	}

	result, err := rawwrite.Write(drivePath, sourcePath, logger, opts)
	if err != nil {
		return false, fmt.Errorf("write: %w", err)
	}
	for _, w := range result.Warnings {
		logger.Warn("write completed with warning", "warning", w)
	}
	lastWriteJob = result.Job
	return true, nil
}

// lastWriteJob is consulted by handleVerify for the source hash and
// total byte count a subsequent VERIFY call needs: verify reuses the
// state left behind by the write it is verifying.
var lastWriteJob *rawwrite.Job

// handleVerify implements VERIFY by re-opening the device (with the same
// open path the writer uses) and re-reading it in source order.
func handleVerify(drivePath, sourcePath, expectedHash64 string, logger *slog.Logger, onProgress func(protocol.Frame)) (bool, error) {
	if lastWriteJob == nil {
		return false, fmt.Errorf("verify: no prior write job recorded in this session")
	}
	target := device.ParseTarget(drivePath)
	hooks := newPlatformHooks(logger)
	dev, err := hooks.openDevice(target)
	if err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}
	defer dev.Close()

	var expected []byte
	if expectedHash64 != "" {
		expected, err = base64.StdEncoding.DecodeString(expectedHash64)
		if err != nil {
			return false, fmt.Errorf("verify: decode expected hash: %w", err)
		}
	}

	mbrOffset := int64(0)
	if lastWriteJob.MBRBlock != nil && len(lastWriteJob.MBRBlock) == 512 {
		mbrOffset = 512
	}
	job := verify.VerifyJob{
		Device:     dev,
		Total:      lastWriteJob.BytesTotal,
		MBROffset:  mbrOffset,
		SourceHash: lastWriteJob.SourceHash(),
	}
	ok, _, err := verify.Run(job, expected, verify.Options{OnProgress: onProgress})
	if err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}
	return ok, nil
}

// handleCustomize implements CUSTOMIZE by opening the FAT boot partition
// through a FatPartition implementation and applying the decoded request.
func handleCustomize(drivePath, cfg64, cmdline64, firstrun64, cloudinit64, cinet64, initFormat64 string, logger *slog.Logger) (bool, error) {
	part, err := openFatPartition(drivePath)
	if err != nil {
		return false, fmt.Errorf("customize: %w", err)
	}

	req := customize.Request{InitFormat: "auto"}
	if initFormat64 != "" {
		b, err := base64.StdEncoding.DecodeString(initFormat64)
		if err != nil {
			return false, fmt.Errorf("customize: decode init format: %w", err)
		}
		if s := string(b); s != "" {
			req.InitFormat = s
		}
	}
	if cfg64 != "" {
		b, err := base64.StdEncoding.DecodeString(cfg64)
		if err != nil {
			return false, fmt.Errorf("customize: decode config lines: %w", err)
		}
		req.ConfigLines = customize.ScanLines(string(b))
	}
	if cmdline64 != "" {
		b, err := base64.StdEncoding.DecodeString(cmdline64)
		if err != nil {
			return false, fmt.Errorf("customize: decode cmdline: %w", err)
		}
		req.CmdlineExtra = string(b)
	}
	if firstrun64 != "" {
		b, err := base64.StdEncoding.DecodeString(firstrun64)
		if err != nil {
			return false, fmt.Errorf("customize: decode firstrun: %w", err)
		}
		req.Firstrun = b
	}
	if cloudinit64 != "" {
		b, err := base64.StdEncoding.DecodeString(cloudinit64)
		if err != nil {
			return false, fmt.Errorf("customize: decode cloud-init: %w", err)
		}
		req.CloudInit = b
	}
	if cinet64 != "" {
		b, err := base64.StdEncoding.DecodeString(cinet64)
		if err != nil {
			return false, fmt.Errorf("customize: decode network-config: %w", err)
		}
		req.NetworkConfig = b
	}

	if err := customize.Apply(part, req); err != nil {
		return false, fmt.Errorf("customize: %w", err)
	}
	return true, nil
}

func handleShutdown(cancel context.CancelFunc) (bool, error) {
	cancel()
	return true, nil
}
