package diskutil

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunDiskpartTerminatesLinesWithCRLF(t *testing.T) {
	r := &FakeRunner{}
	script := CleanAndCreateScript(2, "E:")
	if err := RunDiskpart(context.Background(), r, script); err != nil {
		t.Fatalf("RunDiskpart: %v", err)
	}
	if len(r.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(r.Calls))
	}
	call := r.Calls[0]
	if call.Name != "diskpart" {
		t.Fatalf("expected diskpart, got %q", call.Name)
	}
	for _, line := range strings.Split(strings.TrimSuffix(call.Stdin, "\r\n"), "\r\n") {
		if strings.HasSuffix(line, "\r") {
			t.Fatalf("line retained stray carriage return: %q", line)
		}
	}
	if !strings.Contains(call.Stdin, "select disk 2\r\n") {
		t.Fatalf("stdin missing select disk line: %q", call.Stdin)
	}
}

func TestRunDiskpartPropagatesFailure(t *testing.T) {
	r := &FakeRunner{Err: errors.New("exit status 1"), Output: "DiskPart failed to clean the disk."}
	err := RunDiskpart(context.Background(), r, CleanAndCreateScript(0, "E:"))
	if err == nil {
		t.Fatal("expected error on nonzero exit")
	}
}

func TestRunFat32FormatPassesDriveLetterAndFlag(t *testing.T) {
	r := &FakeRunner{}
	if err := RunFat32Format(context.Background(), r, "E:"); err != nil {
		t.Fatalf("RunFat32Format: %v", err)
	}
	call := r.Calls[0]
	if call.Name != "fat32format" {
		t.Fatalf("expected fat32format, got %q", call.Name)
	}
	if len(call.Args) != 2 || call.Args[0] != "-y" || call.Args[1] != "E:" {
		t.Fatalf("unexpected args: %v", call.Args)
	}
}

func TestCleanAndCreateScriptStripsTrailingColonFromLetter(t *testing.T) {
	script := CleanAndCreateScript(1, "F:")
	found := false
	for _, line := range script {
		if line == "assign letter=F" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected assign letter=F in script, got %v", script)
	}
}

func TestSelectAndListVolumesAndOfflineScripts(t *testing.T) {
	if got := SelectAndListVolumesScript(2); got[0] != "select disk 2" || got[1] != "list volume" {
		t.Fatalf("unexpected list-volumes script: %v", got)
	}
	offline := OfflineScript(2)
	if offline[1] != "offline disk" || offline[2] != "attributes disk clear readonly" {
		t.Fatalf("unexpected offline script: %v", offline)
	}
}

func TestHasVolumesDetectsAVolumeLine(t *testing.T) {
	out := "DISKPART> list volume\n\n  Volume ###  Ltr  Label\n  ----------  ---  -----\n  Volume 0     C   System\n"
	if !HasVolumes(out) {
		t.Fatalf("expected HasVolumes to detect a volume in: %q", out)
	}
	if HasVolumes("DISKPART> list volume\n\nThere are no volumes to list.\n") {
		t.Fatal("expected HasVolumes to report false when no volume line is present")
	}
}

func TestAssignPartitionsScriptIncludesPartition2OnlyWhenRequested(t *testing.T) {
	one := AssignPartitionsScript(3, false)
	for _, line := range one {
		if line == "select partition 2" {
			t.Fatalf("did not expect partition 2 in script: %v", one)
		}
	}
	two := AssignPartitionsScript(3, true)
	found := false
	for _, line := range two {
		if line == "select partition 2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected partition 2 in script: %v", two)
	}
}

func TestHasPartition2(t *testing.T) {
	withTwo := "  Partition 1    Primary   100 MB\n  Partition 2    Primary  5000 MB\n"
	if !HasPartition2(withTwo) {
		t.Fatal("expected HasPartition2 to detect partition 2")
	}
	if HasPartition2("  Partition 1    Primary   100 MB\n") {
		t.Fatal("expected HasPartition2 to report false with only one partition")
	}
}

func TestPickDriveLetterSkipsUsedLetters(t *testing.T) {
	letter, err := PickDriveLetter([]string{"C:", "D:", "e"})
	if err != nil {
		t.Fatalf("PickDriveLetter: %v", err)
	}
	if letter != "F:" {
		t.Fatalf("letter = %q, want F: (D and E taken)", letter)
	}
}

func TestPickDriveLetterErrorsWhenPoolExhausted(t *testing.T) {
	var used []string
	for c := 'D'; c <= 'Z'; c++ {
		used = append(used, string(c)+":")
	}
	if _, err := PickDriveLetter(used); err == nil {
		t.Fatal("expected an error when every letter in the pool is taken")
	}
}
