package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/rpi-imager/helper/internal/device"
	"github.com/rpi-imager/helper/internal/diskutil"
)

func TestFormatTargetPicksFreeDriveLetterForPhysicalTarget(t *testing.T) {
	r := &diskutil.FakeRunner{}
	target := device.ParseTarget(`\\.\PhysicalDrive1`)
	used := func() []string { return []string{"C:", "D:"} }

	ok, err := formatTarget(target, r, used)
	if err != nil {
		t.Fatalf("formatTarget: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(r.Calls) != 2 {
		t.Fatalf("expected 2 calls (diskpart, fat32format), got %d: %v", len(r.Calls), r.Calls)
	}

	diskpartCall := r.Calls[0]
	if diskpartCall.Name != "diskpart" {
		t.Fatalf("expected first call to be diskpart, got %q", diskpartCall.Name)
	}
	if !strings.Contains(diskpartCall.Stdin, "select disk 1\r\n") {
		t.Fatalf("diskpart script missing select disk line: %q", diskpartCall.Stdin)
	}
	if !strings.Contains(diskpartCall.Stdin, "assign letter=E\r\n") {
		t.Fatalf("diskpart script should assign the first free letter (E), got: %q", diskpartCall.Stdin)
	}

	fatCall := r.Calls[1]
	if fatCall.Name != "fat32format" {
		t.Fatalf("expected second call to be fat32format, got %q", fatCall.Name)
	}
	if len(fatCall.Args) != 2 || fatCall.Args[1] != "E:" {
		t.Fatalf("expected fat32format to run against the picked letter E:, got args %v", fatCall.Args)
	}
}

func TestFormatTargetSkipsDiskpartForDriveLetterTarget(t *testing.T) {
	r := &diskutil.FakeRunner{}
	target := device.ParseTarget("E:")
	used := func() []string { t.Fatal("usedLetters should not be consulted for a non-physical target"); return nil }

	ok, err := formatTarget(target, r, used)
	if err != nil {
		t.Fatalf("formatTarget: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(r.Calls) != 1 {
		t.Fatalf("expected 1 call (fat32format only), got %d: %v", len(r.Calls), r.Calls)
	}
	if r.Calls[0].Name != "fat32format" || r.Calls[0].Args[1] != "E:" {
		t.Fatalf("expected fat32format E:, got %v", r.Calls[0])
	}
}

func TestFormatTargetRejectsUnparsedPhysicalDriveNumber(t *testing.T) {
	r := &diskutil.FakeRunner{}
	target := device.ParseTarget(`\\.\PhysicalDriveX`)

	if _, err := formatTarget(target, r, func() []string { return nil }); err == nil {
		t.Fatal("expected an error for an unparseable physical drive number")
	}
	if len(r.Calls) != 0 {
		t.Fatalf("expected no subprocess calls, got %v", r.Calls)
	}
}

func TestFormatTargetPropagatesDiskpartFailure(t *testing.T) {
	r := &diskutil.FakeRunner{Err: errors.New("exit status 1")}
	target := device.ParseTarget(`\\.\PhysicalDrive0`)

	if _, err := formatTarget(target, r, func() []string { return nil }); err == nil {
		t.Fatal("expected diskpart failure to propagate")
	}
}
