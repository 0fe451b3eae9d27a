// Package fatlayout builds a minimal, valid FAT32 filesystem image in
// memory: boot sector, FSInfo sector, backup boot sector, both FAT
// copies, and an empty root directory cluster carrying an optional
// volume label. It gives tests a synthetic fixture shaped like a
// Raspberry Pi OS boot partition without depending on a real FAT driver;
// only its own tests use it at present.
package fatlayout

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Geometry holds the on-disk layout fields a FAT32 boot sector encodes.
type Geometry struct {
	BytesPerSector   uint16
	SectorsPerCluster uint8
	ReservedSectors  uint16
	NumFATs          uint8
	Media            uint8
	SectorsPerTrack  uint16
	NumHeads         uint16
	HiddenSectors    uint32
	TotalSectors32   uint32
	SectorsPerFAT32  uint32
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
}

// PresetForSize derives a plausible FAT32 geometry for a device of the
// given byte size: 1 sector/cluster up to 260MiB (so small images such
// as Pi boot partitions still reach FAT32's minimum cluster count), 8 up
// to 32GiB, 16 up to 2TiB, and 32 above that.
func PresetForSize(size int64) (Geometry, error) {
	if size < 32*1024*1024 {
		return Geometry{}, fmt.Errorf("fatlayout: %d bytes too small for FAT32", size)
	}
	g := Geometry{
		BytesPerSector:   512,
		ReservedSectors:  32,
		NumFATs:          2,
		Media:            0xF8,
		NumHeads:         255,
		SectorsPerTrack:  63,
		FSInfoSector:     1,
		BackupBootSector: 6,
		RootCluster:      2,
	}
	switch {
	case size <= 260*1024*1024:
		g.SectorsPerCluster = 1
	case size <= 32*1024*1024*1024:
		g.SectorsPerCluster = 8
	case size <= 2*1024*1024*1024*1024:
		g.SectorsPerCluster = 16
	default:
		g.SectorsPerCluster = 32
	}
	ts := uint32(size / 512)
	g.TotalSectors32 = ts
	return g, nil
}

// ComputeLayout resolves SectorsPerFAT32 by the same fixed-point
// iteration the original formatter uses: guess a FAT size, compute how
// many clusters that leaves room for, then check whether that cluster
// count still needs the same number of FAT sectors.
func ComputeLayout(g *Geometry) (fatSectors, dataSectors, clusters uint32, err error) {
	if g.ReservedSectors < 32 {
		return 0, 0, 0, errors.New("fatlayout: FAT32 requires >= 32 reserved sectors")
	}
	for i := 0; i < 8; i++ {
		fatSectors = g.SectorsPerFAT32
		if fatSectors == 0 {
			fatSectors = 1
		}
		dataSectors = g.TotalSectors32 - uint32(g.ReservedSectors) - uint32(g.NumFATs)*fatSectors
		if dataSectors == 0 || dataSectors > g.TotalSectors32 {
			return 0, 0, 0, errors.New("fatlayout: dataSectors out of range")
		}
		clusters = dataSectors / uint32(g.SectorsPerCluster)
		entries := clusters + 2
		neededBytes := entries * 4
		need := (neededBytes + uint32(g.BytesPerSector) - 1) / uint32(g.BytesPerSector)
		if need == fatSectors {
			break
		}
		g.SectorsPerFAT32 = need
	}
	if clusters < 65525 {
		return 0, 0, 0, fmt.Errorf("fatlayout: clusters=%d too small for FAT32", clusters)
	}
	return g.SectorsPerFAT32, dataSectors, clusters, nil
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

// BuildBootSector encodes the BPB + EBPB for a FAT32 volume.
func BuildBootSector(g Geometry, volLabel, oem string) []byte {
	if volLabel == "" {
		volLabel = "NO NAME    "
	}
	if oem == "" {
		oem = "RPIIMAGER"
	}
	sec := make([]byte, 512)
	sec[0], sec[1], sec[2] = 0xEB, 0x58, 0x90
	copy(sec[3:11], padRight(oem, 8))
	binary.LittleEndian.PutUint16(sec[11:], g.BytesPerSector)
	sec[13] = g.SectorsPerCluster
	binary.LittleEndian.PutUint16(sec[14:], g.ReservedSectors)
	sec[16] = g.NumFATs
	sec[21] = g.Media
	binary.LittleEndian.PutUint16(sec[24:], g.SectorsPerTrack)
	binary.LittleEndian.PutUint16(sec[26:], g.NumHeads)
	binary.LittleEndian.PutUint32(sec[28:], g.HiddenSectors)
	binary.LittleEndian.PutUint32(sec[32:], g.TotalSectors32)
	binary.LittleEndian.PutUint32(sec[36:], g.SectorsPerFAT32)
	binary.LittleEndian.PutUint32(sec[44:], g.RootCluster)
	binary.LittleEndian.PutUint16(sec[48:], g.FSInfoSector)
	binary.LittleEndian.PutUint16(sec[50:], g.BackupBootSector)
	sec[64], sec[65], sec[66] = 0x80, 0x00, 0x29
	binary.LittleEndian.PutUint32(sec[67:], 0x12345678)
	copy(sec[71:82], padRight(volLabel, 11))
	copy(sec[82:90], []byte("FAT32   "))
	sec[510], sec[511] = 0x55, 0xAA
	return sec
}

// BuildFSInfo encodes the FSInfo sector's fixed signatures.
func BuildFSInfo() []byte {
	fs := make([]byte, 512)
	binary.LittleEndian.PutUint32(fs[0:], 0x41615252)
	binary.LittleEndian.PutUint32(fs[484:], 0x61417272)
	binary.LittleEndian.PutUint32(fs[488:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(fs[492:], 0x00000002)
	binary.LittleEndian.PutUint32(fs[508:], 0xAA550000)
	return fs
}

// BuildRootLabelEntry returns the 32-byte volume-label directory entry,
// or nil if label is empty.
func BuildRootLabelEntry(label string) []byte {
	if label == "" {
		return nil
	}
	e := make([]byte, 32)
	copy(e[0:11], padRight(label, 11))
	e[11] = 0x08
	return e
}

// InitFAT writes the two reserved FAT32 entries every FAT begins with.
func InitFAT(b []byte, media byte) {
	put := func(i int, v uint32) {
		o := i * 4
		if o+4 <= len(b) {
			binary.LittleEndian.PutUint32(b[o:], v)
		}
	}
	put(0, 0x0FFFFF00|uint32(media))
	put(1, 0x0FFFFFFF)
}

// Image is a fully assembled FAT32 filesystem ready to be written to a
// byte slice the size of the target device.
type Image struct {
	Geometry Geometry
	Bytes    []byte
}

// Build assembles a complete FAT32 image of the given byte size: boot
// sector, FSInfo, backup boot sector at their reserved offsets, both FAT
// copies (reserved entries only — the filesystem is otherwise empty),
// and a root directory cluster holding the volume label if any.
func Build(size int64, label, oem string) (*Image, error) {
	g, err := PresetForSize(size)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := ComputeLayout(&g); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	boot := BuildBootSector(g, label, oem)
	copy(buf, boot)
	fsinfo := BuildFSInfo()
	copy(buf[int64(g.FSInfoSector)*512:], fsinfo)
	copy(buf[int64(g.BackupBootSector)*512:], boot)

	fatBytes := int64(g.SectorsPerFAT32) * 512
	fat1Off := int64(g.ReservedSectors) * 512
	fat2Off := fat1Off + fatBytes
	fat1 := make([]byte, fatBytes)
	InitFAT(fat1, g.Media)
	copy(buf[fat1Off:], fat1)
	copy(buf[fat2Off:], fat1)

	rootOff := fat2Off + fatBytes
	if label != "" {
		copy(buf[rootOff:], BuildRootLabelEntry(label))
	}

	return &Image{Geometry: g, Bytes: buf}, nil
}
