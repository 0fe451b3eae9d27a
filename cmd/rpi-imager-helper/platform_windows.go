//go:build windows

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/diskutil"
)

func newPlatformHooks(logger *slog.Logger) platformHooks {
	runner := diskutil.ExecRunner{Logger: logger}

	return platformHooks{
		prepare: func(t device.Target) ([]string, error) {
			if !t.IsPhysical || !t.DriveNumberParsed {
				return nil, nil
			}

			listOut, err := diskutil.RunDiskpartOutput(context.Background(), runner, diskutil.SelectAndListVolumesScript(t.DriveNumber))
			if err != nil {
				return nil, fmt.Errorf("diskpart list volumes: %w", err)
			}
			if err := diskutil.RunDiskpart(context.Background(), runner, diskutil.OfflineScript(t.DriveNumber)); err != nil {
				return nil, fmt.Errorf("diskpart offline: %w", err)
			}
			if diskutil.HasVolumes(listOut) {
				if err := diskutil.RunDiskpart(context.Background(), runner, diskutil.CleanScript(t.DriveNumber)); err != nil {
					return nil, fmt.Errorf("diskpart clean: %w", err)
				}
			}
			return nil, nil
		},
		openDevice: func(t device.Target) (device.Raw, error) {
			var lastErr error
			for attempt := 0; attempt < 3; attempt++ {
				if attempt > 0 {
					time.Sleep(2 * time.Second)
				}
				d, err := device.OpenSequence(t.Path, attempt)
				if err == nil {
					return d, nil
				}
				lastErr = err
				logger.Warn("open device attempt failed", "attempt", attempt, "error", err)
			}
			return nil, fmt.Errorf("open device: %w", lastErr)
		},
		sectorSize: func(t device.Target) int {
			return device.SectorSize(t.Path)
		},
		controlIOCTLs: func(d device.Raw) []string {
			wr, ok := d.(*device.WinRaw)
			if !ok {
				return nil
			}
			return device.LockAndDismount(wr.Handle())
		},
		bringOnline: func(t device.Target) []string {
			if !t.IsPhysical || !t.DriveNumberParsed {
				return nil
			}
			script := []string{
				fmt.Sprintf("select disk %d", t.DriveNumber),
				"online disk",
				"rescan",
				"exit",
			}
			if err := diskutil.RunDiskpart(context.Background(), runner, script); err != nil {
				return []string{fmt.Sprintf("bring disk online: %v", err)}
			}

			time.Sleep(3 * time.Second)

			listOut, err := diskutil.RunDiskpartOutput(context.Background(), runner, diskutil.ListPartitionScript(t.DriveNumber))
			if err != nil {
				return []string{fmt.Sprintf("list partitions: %v", err)}
			}
			assignScript := diskutil.AssignPartitionsScript(t.DriveNumber, diskutil.HasPartition2(listOut))
			if err := diskutil.RunDiskpart(context.Background(), runner, assignScript); err != nil {
				return []string{fmt.Sprintf("assign drive letters: %v", err)}
			}
			return nil
		},
		unlockFallback: func(t device.Target) {
			d, err := device.OpenSequence(t.Path, 0)
			if err != nil {
				logger.Warn("unlock fallback: reopen failed", "error", err)
				return
			}
			defer d.Close()
			if wr, ok := d.(*device.WinRaw); ok {
				if err := device.Unlock(wr.Handle()); err != nil {
					logger.Warn("unlock fallback failed", "error", err)
				}
			}
		},
	}
}

