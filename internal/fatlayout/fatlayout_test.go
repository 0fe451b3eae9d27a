package fatlayout

import "testing"

func TestBuildProducesValidBootSectorSignature(t *testing.T) {
	img, err := Build(64*1024*1024, "BOOT", "RPIIMG")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if img.Bytes[510] != 0x55 || img.Bytes[511] != 0xAA {
		t.Fatalf("missing boot signature: %02x %02x", img.Bytes[510], img.Bytes[511])
	}
	if string(img.Bytes[82:87]) != "FAT32" {
		t.Fatalf("filesystem type label = %q", img.Bytes[82:90])
	}
}

func TestBuildPlacesFSInfoAndBackupBootSector(t *testing.T) {
	img, err := Build(64*1024*1024, "", "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fsinfoOff := int64(img.Geometry.FSInfoSector) * 512
	if img.Bytes[fsinfoOff] != 0x52 || img.Bytes[fsinfoOff+1] != 0x52 {
		t.Fatalf("FSInfo lead signature missing at offset %d", fsinfoOff)
	}
	backupOff := int64(img.Geometry.BackupBootSector) * 512
	if img.Bytes[backupOff+510] != 0x55 || img.Bytes[backupOff+511] != 0xAA {
		t.Fatalf("backup boot sector signature missing at offset %d", backupOff)
	}
}

func TestBuildRejectsUndersizedImage(t *testing.T) {
	if _, err := Build(1024, "", ""); err == nil {
		t.Fatal("expected error for an image too small for FAT32")
	}
}

func TestComputeLayoutRejectsTooFewReservedSectors(t *testing.T) {
	g := Geometry{BytesPerSector: 512, ReservedSectors: 1, NumFATs: 2, SectorsPerCluster: 8, TotalSectors32: 100000}
	if _, _, _, err := ComputeLayout(&g); err == nil {
		t.Fatal("expected error for ReservedSectors < 32")
	}
}
