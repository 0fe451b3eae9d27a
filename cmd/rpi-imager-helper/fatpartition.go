package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// osFatPartition implements customize.FatPartition directly against the
// mounted drive letter's filesystem. Windows already assigns the boot
// partition a drive letter by the time customization runs, so its files
// are ordinary paths and no bespoke FAT parser is needed here.
type osFatPartition struct {
	root string
}

func openFatPartition(drivePathOrLetter string) (*osFatPartition, error) {
	info, err := os.Stat(drivePathOrLetter)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("customize: %s is not a mounted directory", drivePathOrLetter)
	}
	return &osFatPartition{root: drivePathOrLetter}, nil
}

func (p *osFatPartition) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.root, name))
}

func (p *osFatPartition) WriteFile(name string, contents []byte) error {
	return os.WriteFile(filepath.Join(p.root, name), contents, 0o644)
}

func (p *osFatPartition) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(p.root, name))
	return err == nil
}

func (p *osFatPartition) Sync() error { return nil }

func (p *osFatPartition) Close() error { return nil }
