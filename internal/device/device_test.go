package device

import "testing"

func TestParseTargetPhysicalDrive(t *testing.T) {
	target := ParseTarget(`\\.\PhysicalDrive3`)
	if !target.IsPhysical || !target.DriveNumberParsed {
		t.Fatalf("expected IsPhysical and DriveNumberParsed, got %+v", target)
	}
	if target.DriveNumber != 3 {
		t.Fatalf("DriveNumber = %d, want 3", target.DriveNumber)
	}
}

func TestParseTargetDriveLetter(t *testing.T) {
	target := ParseTarget("E:")
	if target.IsPhysical {
		t.Fatalf("expected a drive-letter target, got %+v", target)
	}
	if target.DriveLetter != "E:" {
		t.Fatalf("DriveLetter = %q, want E:", target.DriveLetter)
	}
}

func TestParseTargetPhysicalDriveWithUnparseableNumber(t *testing.T) {
	target := ParseTarget(`\\.\PhysicalDriveX`)
	if !target.IsPhysical {
		t.Fatalf("expected IsPhysical=true for a path under the physical-drive prefix, got %+v", target)
	}
	if target.DriveNumberParsed {
		t.Fatalf("expected DriveNumberParsed=false, got %+v", target)
	}
}

func TestParseTargetNormalizesDoubledBackslashes(t *testing.T) {
	target := ParseTarget(`\\\\.\\PhysicalDrive1`)
	if !target.IsPhysical || target.DriveNumber != 1 {
		t.Fatalf("expected a normalized physical target, got %+v", target)
	}
}
