package builder

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// smiProber answers device inventory questions by shelling out to
// nvidia-smi. A machine without the tool reports zero devices and no float8
// support rather than an error, so configuration checks fail cleanly.
type smiProber struct {
	bin string
}

const envSMIBin = "TRTBUILD_SMI_BIN"

// Float8 needs compute capability 8.9 (Ada) or newer.
const float8MinComputeCap = 8.9

func newSMIProber() DeviceProber {
	bin := "nvidia-smi"
	if v := os.Getenv(envSMIBin); v != "" {
		bin = v
	}
	return &smiProber{bin: bin}
}

func (p *smiProber) query(fields string, extra ...string) ([]string, error) {
	args := append([]string{"--query-gpu=" + fields, "--format=csv,noheader,nounits"}, extra...)
	cmd := exec.Command(p.bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(out.String(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func (p *smiProber) available() bool {
	_, err := exec.LookPath(p.bin)
	return err == nil
}

func (p *smiProber) DeviceCount() (int, error) {
	if !p.available() {
		logDebugf("%s not found, assuming no accelerators", p.bin)
		return 0, nil
	}
	lines, err := p.query("index")
	if err != nil {
		return 0, fmt.Errorf("query device count: %w", err)
	}
	return len(lines), nil
}

func (p *smiProber) DeviceFreeMemory(device int) (uint64, error) {
	lines, err := p.query("memory.free", "-i", strconv.Itoa(device))
	if err != nil {
		return 0, fmt.Errorf("query device %d memory: %w", device, err)
	}
	if len(lines) == 0 {
		return 0, fmt.Errorf("device %d not found", device)
	}
	mib, err := strconv.ParseUint(lines[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse device %d memory %q: %w", device, lines[0], err)
	}
	return mib << 20, nil
}

func (p *smiProber) HasFloat8Support() (bool, error) {
	if !p.available() {
		logDebugf("%s not found, assuming no float8 support", p.bin)
		return false, nil
	}
	lines, err := p.query("compute_cap")
	if err != nil {
		return false, fmt.Errorf("query compute capability: %w", err)
	}
	// Every device must support it; mixed fleets build for the weakest card.
	if len(lines) == 0 {
		return false, nil
	}
	for _, l := range lines {
		cc, err := strconv.ParseFloat(l, 64)
		if err != nil {
			return false, fmt.Errorf("parse compute capability %q: %w", l, err)
		}
		if cc < float8MinComputeCap {
			return false, nil
		}
	}
	return true, nil
}
