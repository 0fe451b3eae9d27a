// Package customize implements the FAT boot-partition file edits driven
// by the CUSTOMIZE command: config.txt line toggling, cmdline.txt
// appends, and first-boot provisioning via either the systemd or
// cloud-init mechanism.
package customize

import (
	"bufio"
	"fmt"
	"strings"
)

// FatPartition is the external collaborator that performs file-level
// edits on the FAT boot partition. It is modeled as an interface here so
// a fake implementation can exercise Customizer in tests without a real
// FAT driver.
type FatPartition interface {
	// ReadFile returns the full contents of name, or an error if it does
	// not exist.
	ReadFile(name string) ([]byte, error)
	// WriteFile replaces (or creates) name with contents.
	WriteFile(name string, contents []byte) error
	// Exists reports whether name is present on the partition.
	Exists(name string) bool
	// Sync flushes pending writes to the device.
	Sync() error
	// Close releases the device handle the partition was opened on.
	Close() error
}

// Request bundles CUSTOMIZE's six (decoded) arguments.
type Request struct {
	ConfigLines  []string // config.txt lines to ensure are present, uncommented
	CmdlineExtra string   // appended to cmdline.txt after trimming
	Firstrun     []byte   // firstrun.sh contents, used in systemd mode
	CloudInit    []byte   // user-data contents, used in cloudinit mode
	NetworkConfig []byte  // network-config contents, used in cloudinit mode
	InitFormat   string   // "systemd", "cloudinit", or "auto"
}

// Apply performs every edit Request describes against part, in a fixed
// order, and syncs+closes the partition on every path (success or
// failure) so no device handle is ever leaked.
func Apply(part FatPartition, req Request) (err error) {
	defer func() {
		part.Sync()
		if cerr := part.Close(); err == nil {
			err = cerr
		}
	}()

	if err = applyConfigTxt(part, req.ConfigLines); err != nil {
		return fmt.Errorf("customize: config.txt: %w", err)
	}

	mode := req.InitFormat
	if mode == "auto" || mode == "" {
		mode, err = detectInitFormat(part)
		if err != nil {
			return fmt.Errorf("customize: detect init format: %w", err)
		}
	}

	switch mode {
	case "systemd":
		if err = applySystemd(part, req); err != nil {
			return fmt.Errorf("customize: systemd mode: %w", err)
		}
	case "cloudinit":
		if err = applyCloudInit(part, req); err != nil {
			return fmt.Errorf("customize: cloudinit mode: %w", err)
		}
	default:
		return fmt.Errorf("customize: unknown init format %q", mode)
	}
	return nil
}

// applyConfigTxt implements the per-line rule: if the file contains
// "#<line>" (commented), uncomment it; if it already contains the line,
// leave it; otherwise append it, ensuring a trailing newline.
func applyConfigTxt(part FatPartition, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	content := ""
	if part.Exists("config.txt") {
		b, err := part.ReadFile("config.txt")
		if err != nil {
			return err
		}
		content = string(b)
	}
	fileLines := splitLinesKeepNone(content)

	for _, want := range lines {
		idx := indexOf(fileLines, want)
		if idx >= 0 {
			continue
		}
		commentedIdx := indexOf(fileLines, "#"+want)
		if commentedIdx >= 0 {
			fileLines[commentedIdx] = want
			continue
		}
		fileLines = append(fileLines, want)
	}

	out := strings.Join(fileLines, "\n")
	if len(out) > 0 && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return part.WriteFile("config.txt", []byte(out))
}

func indexOf(lines []string, want string) int {
	for i, l := range lines {
		if l == want {
			return i
		}
	}
	return -1
}

func splitLinesKeepNone(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// detectInitFormat implements auto-detection: user-data present ->
// cloudinit; else issue.txt containing "pi-gen" -> systemd; else
// cloudinit.
func detectInitFormat(part FatPartition) (string, error) {
	if part.Exists("user-data") {
		return "cloudinit", nil
	}
	if part.Exists("issue.txt") {
		b, err := part.ReadFile("issue.txt")
		if err != nil {
			return "", err
		}
		if strings.Contains(string(b), "pi-gen") {
			return "systemd", nil
		}
	}
	return "cloudinit", nil
}

// applySystemd writes firstrun.sh and appends the kernel arguments that
// invoke it at boot to cmdline.txt.
func applySystemd(part FatPartition, req Request) error {
	if len(req.Firstrun) > 0 {
		if err := part.WriteFile("firstrun.sh", req.Firstrun); err != nil {
			return err
		}
	}
	return appendCmdline(part, ` systemd.run=/boot/firstrun.sh systemd.run_success_action=reboot systemd.unit=kernel-command-line.target`, req.CmdlineExtra)
}

// applyCloudInit prepends the cloud-config marker to user-data and writes
// user-data/network-config when supplied.
func applyCloudInit(part FatPartition, req Request) error {
	if len(req.CloudInit) > 0 {
		body := req.CloudInit
		if !strings.HasPrefix(string(body), "#cloud-config") {
			body = append([]byte("#cloud-config\n"), body...)
		}
		if err := part.WriteFile("user-data", body); err != nil {
			return err
		}
	}
	if len(req.NetworkConfig) > 0 {
		if err := part.WriteFile("network-config", req.NetworkConfig); err != nil {
			return err
		}
	}
	return appendCmdline(part, "", req.CmdlineExtra)
}

// appendCmdline trims the existing cmdline.txt and appends extra
// arguments plus any caller-supplied extra string; cmdline.txt is always
// trimmed before append.
func appendCmdline(part FatPartition, kernelArgs, extra string) error {
	existing := ""
	if part.Exists("cmdline.txt") {
		b, err := part.ReadFile("cmdline.txt")
		if err != nil {
			return err
		}
		existing = string(b)
	}
	trimmed := strings.TrimSpace(existing)
	if kernelArgs != "" {
		trimmed += kernelArgs
	}
	if extra != "" {
		trimmed = strings.TrimSpace(trimmed) + " " + extra
	}
	trimmed = strings.TrimSpace(trimmed) + "\n"
	return part.WriteFile("cmdline.txt", []byte(trimmed))
}

// ScanLines is a small helper exposed for callers decoding line-delimited
// config input (e.g. base64-decoded config.txt line lists) without
// pulling in bufio at every call site.
func ScanLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
