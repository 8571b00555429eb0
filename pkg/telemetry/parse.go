package telemetry

import (
	"fmt"
	"io"
	"math"
	"strconv"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Scaling factors applied at parse time so stored values carry the units
// documented on Metrics.
const (
	energyScale = 1e-9        // mJ -> MJ
	memoryScale = 1.048576e-3 // MiB -> GB
)

type fieldMapping struct {
	assign func(m *Metrics, v *float64)
	scale  float64
}

// dcgmFields maps DCGM exporter metric names to Metrics fields.
var dcgmFields = map[string]fieldMapping{
	"DCGM_FI_DEV_POWER_USAGE":              {func(m *Metrics, v *float64) { m.GPUPowerUsage = v }, 1},
	"DCGM_FI_DEV_POWER_MGMT_LIMIT":         {func(m *Metrics, v *float64) { m.PowerManagementLimit = v }, 1},
	"DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION": {func(m *Metrics, v *float64) { m.EnergyConsumption = v }, energyScale},
	"DCGM_FI_DEV_GPU_UTIL":                 {func(m *Metrics, v *float64) { m.GPUUtilization = v }, 1},
	"DCGM_FI_DEV_MEM_COPY_UTIL":            {func(m *Metrics, v *float64) { m.MemoryCopyUtilization = v }, 1},
	"DCGM_FI_DEV_FB_USED":                  {func(m *Metrics, v *float64) { m.GPUMemoryUsed = v }, memoryScale},
	"DCGM_FI_DEV_FB_FREE":                  {func(m *Metrics, v *float64) { m.GPUMemoryFree = v }, memoryScale},
	"DCGM_FI_DEV_FB_TOTAL":                 {func(m *Metrics, v *float64) { m.GPUMemoryTotal = v }, memoryScale},
	"DCGM_FI_DEV_SM_CLOCK":                 {func(m *Metrics, v *float64) { m.SMClockFrequency = v }, 1},
	"DCGM_FI_DEV_MEM_CLOCK":                {func(m *Metrics, v *float64) { m.MemoryClockFrequency = v }, 1},
	"DCGM_FI_DEV_GPU_TEMP":                 {func(m *Metrics, v *float64) { m.GPUTemperature = v }, 1},
	"DCGM_FI_DEV_MEMORY_TEMP":              {func(m *Metrics, v *float64) { m.MemoryTemperature = v }, 1},
	"DCGM_FI_DEV_POWER_VIOLATION":          {func(m *Metrics, v *float64) { m.PowerViolation = v }, 1},
	"DCGM_FI_DEV_THERMAL_VIOLATION":        {func(m *Metrics, v *float64) { m.ThermalViolation = v }, 1},
	"DCGM_FI_DEV_XID_ERRORS":               {func(m *Metrics, v *float64) { m.XIDErrors = v }, 1},
}

// ParseDCGM reads one Prometheus text scrape and groups samples into one
// Record per GPU, keyed by the UUID label. Rows with a non-numeric gpu label
// are dropped; non-finite sample values are left nil.
func ParseDCGM(r io.Reader, dcgmURL string, timestampNS int64) ([]*Record, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parsing dcgm scrape: %w", err)
	}

	byUUID := map[string]*Record{}
	var order []string

	for name, family := range families {
		mapping, ok := dcgmFields[name]
		if !ok {
			continue
		}
		for _, sample := range family.GetMetric() {
			labels := labelMap(sample)

			uuid := labels["UUID"]
			if uuid == "" {
				continue
			}
			index, err := strconv.Atoi(labels["gpu"])
			if err != nil {
				continue
			}

			rec, ok := byUUID[uuid]
			if !ok {
				rec = &Record{
					TimestampNS:  timestampNS,
					DCGMURL:      dcgmURL,
					GPUUUID:      uuid,
					GPUIndex:     index,
					GPUModelName: labels["modelName"],
					PCIBusID:     labels["pci_bus_id"],
					Device:       labels["device"],
					Hostname:     labels["Hostname"],
				}
				byUUID[uuid] = rec
				order = append(order, uuid)
			}

			value := sampleValue(sample)
			if math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			value *= mapping.scale
			mapping.assign(&rec.Metrics, &value)
		}
	}

	out := make([]*Record, 0, len(order))
	for _, uuid := range order {
		out = append(out, byUUID[uuid])
	}
	return out, nil
}

func labelMap(m *dto.Metric) map[string]string {
	labels := map[string]string{}
	for _, pair := range m.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels
}

// sampleValue reads the sample regardless of how the exporter typed it; DCGM
// surfaces gauges and the occasional counter.
func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	default:
		return math.NaN()
	}
}
