/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package probes

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// GPU reports NVIDIA GPU availability through nvidia-smi, which the
// device plugin mounts into containers that request a GPU resource.
type GPU struct {
	cfg config.GPU

	// run is swapped in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

func NewGPU(cfg config.GPU) *GPU {
	return &GPU{cfg: cfg, run: runNvidiaSMI}
}

func runNvidiaSMI(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi", args...).Output()
	return string(out), err
}

func (g *GPU) ID() string          { return "gpu" }
func (g *GPU) DisplayName() string { return "GPU" }
func (g *GPU) Configured() bool    { return g.cfg.Enabled }
func (g *GPU) MissingKeys() []string {
	if g.cfg.Enabled {
		return nil
	}
	return []string{"GPU_ENABLED"}
}

func (g *GPU) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(g)
	if !g.Configured() {
		return probe.Skipped(g, g.MissingKeys())
	}

	header, err := g.run(ctx)
	if err != nil {
		r.Fail("availability", fmt.Sprintf("nvidia-smi failed: %v", err),
			"the container has no GPU attached; request an nvidia.com/gpu resource and confirm the device plugin is installed", "GPU_UNAVAILABLE")
		return r.Complete()
	}
	r.Pass("availability", "nvidia-smi is present and responding", nil)

	driver, cuda := parseSMIHeader(header)
	if driver == "" {
		r.Fail("driver_version", "could not read the driver version from nvidia-smi output",
			"the driver on the node may be mid-upgrade; try again or drain the node", "GPU_DRIVER")
	} else {
		r.Pass("driver_version", fmt.Sprintf("driver %s", driver), map[string]any{"driver": driver})
	}
	if cuda == "" {
		r.Fail("cuda_version", "could not read the CUDA version from nvidia-smi output", "", "GPU_CUDA")
	} else {
		r.Pass("cuda_version", fmt.Sprintf("CUDA %s", cuda), map[string]any{"cuda": cuda})
	}

	g.devices(ctx, r)
	return r.Complete()
}

func (g *GPU) devices(ctx context.Context, r *probe.Recorder) {
	out, err := g.run(ctx,
		"--query-gpu=index,name,memory.total,memory.used,utilization.gpu,temperature.gpu,power.draw",
		"--format=csv,noheader,nounits")
	if err != nil {
		r.Fail("devices", fmt.Sprintf("querying devices: %v", err), "", "GPU_QUERY")
		return
	}
	devices := parseSMIDevices(out)
	if len(devices) == 0 {
		r.Fail("devices", "nvidia-smi reported no devices",
			"the driver loaded but no GPU is visible; check the node's device plugin allocation", "GPU_NONE")
		return
	}
	names := make([]string, 0, len(devices))
	details := map[string]any{"count": len(devices)}
	for _, d := range devices {
		names = append(names, fmt.Sprintf("%s (%d MiB, %d%% util, %d°C, %.0f W)",
			d.Name, d.MemoryTotalMiB, d.UtilizationPct, d.TemperatureC, d.PowerDrawW))
		details[fmt.Sprintf("gpu_%d", d.Index)] = map[string]any{
			"name":             d.Name,
			"memory_total_mib": d.MemoryTotalMiB,
			"memory_used_mib":  d.MemoryUsedMiB,
			"utilization_pct":  d.UtilizationPct,
			"temperature_c":    d.TemperatureC,
			"power_draw_w":     d.PowerDrawW,
		}
	}
	r.Pass("devices", fmt.Sprintf("%d device(s): %s", len(devices), strings.Join(names, "; ")), details)
}

type gpuDevice struct {
	Index          int
	Name           string
	MemoryTotalMiB int
	MemoryUsedMiB  int
	UtilizationPct int
	TemperatureC   int
	PowerDrawW     float64
}

// parseSMIHeader pulls the driver and CUDA versions out of the banner
// line of plain nvidia-smi output:
//
//	| NVIDIA-SMI 550.54.14   Driver Version: 550.54.14   CUDA Version: 12.4 |
func parseSMIHeader(out string) (driver, cuda string) {
	for _, line := range strings.Split(out, "\n") {
		if i := strings.Index(line, "Driver Version:"); i >= 0 {
			driver = firstField(line[i+len("Driver Version:"):])
		}
		if i := strings.Index(line, "CUDA Version:"); i >= 0 {
			cuda = firstField(line[i+len("CUDA Version:"):])
		}
		if driver != "" && cuda != "" {
			break
		}
	}
	return driver, cuda
}

func firstField(s string) string {
	fields := strings.Fields(strings.TrimRight(s, "| "))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseSMIDevices(out string) []gpuDevice {
	var devices []gpuDevice
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) != 7 {
			continue
		}
		d := gpuDevice{Name: strings.TrimSpace(parts[1])}
		d.Index, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
		d.MemoryTotalMiB, _ = strconv.Atoi(strings.TrimSpace(parts[2]))
		d.MemoryUsedMiB, _ = strconv.Atoi(strings.TrimSpace(parts[3]))
		d.UtilizationPct, _ = strconv.Atoi(strings.TrimSpace(parts[4]))
		d.TemperatureC, _ = strconv.Atoi(strings.TrimSpace(parts[5]))
		// power.draw stays a float; "[N/A]" parses to zero.
		d.PowerDrawW, _ = strconv.ParseFloat(strings.TrimSpace(parts[6]), 64)
		devices = append(devices, d)
	}
	return devices
}
