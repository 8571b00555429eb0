package telemetry

// Metrics is one GPU's gauge snapshot. Every field is optional; nil means
// the exporter did not surface the metric (or the value was not finite).
// Units after scaling: power W, energy MJ, utilization %, memory GB,
// clocks MHz, temperatures C, violations us.
type Metrics struct {
	GPUPowerUsage        *float64 `json:"gpu_power_usage,omitempty"`
	PowerManagementLimit *float64 `json:"power_management_limit,omitempty"`
	EnergyConsumption    *float64 `json:"energy_consumption,omitempty"`
	GPUUtilization       *float64 `json:"gpu_utilization,omitempty"`
	MemoryCopyUtilization *float64 `json:"memory_copy_utilization,omitempty"`
	GPUMemoryUsed        *float64 `json:"gpu_memory_used,omitempty"`
	GPUMemoryFree        *float64 `json:"gpu_memory_free,omitempty"`
	GPUMemoryTotal       *float64 `json:"gpu_memory_total,omitempty"`
	SMClockFrequency     *float64 `json:"sm_clock_frequency,omitempty"`
	MemoryClockFrequency *float64 `json:"memory_clock_frequency,omitempty"`
	GPUTemperature       *float64 `json:"gpu_temperature,omitempty"`
	MemoryTemperature    *float64 `json:"memory_temperature,omitempty"`
	PowerViolation       *float64 `json:"power_violation,omitempty"`
	ThermalViolation     *float64 `json:"thermal_violation,omitempty"`
	XIDErrors            *float64 `json:"xid_errors,omitempty"`
}

// Each reports every set metric as (name, value).
func (m *Metrics) Each(fn func(name string, value float64)) {
	visit := func(name string, v *float64) {
		if v != nil {
			fn(name, *v)
		}
	}
	visit("gpu_power_usage", m.GPUPowerUsage)
	visit("power_management_limit", m.PowerManagementLimit)
	visit("energy_consumption", m.EnergyConsumption)
	visit("gpu_utilization", m.GPUUtilization)
	visit("memory_copy_utilization", m.MemoryCopyUtilization)
	visit("gpu_memory_used", m.GPUMemoryUsed)
	visit("gpu_memory_free", m.GPUMemoryFree)
	visit("gpu_memory_total", m.GPUMemoryTotal)
	visit("sm_clock_frequency", m.SMClockFrequency)
	visit("memory_clock_frequency", m.MemoryClockFrequency)
	visit("gpu_temperature", m.GPUTemperature)
	visit("memory_temperature", m.MemoryTemperature)
	visit("power_violation", m.PowerViolation)
	visit("thermal_violation", m.ThermalViolation)
	visit("xid_errors", m.XIDErrors)
}

// Record is one GPU snapshot at one instant. The GPU UUID is the primary
// identity; the DCGM URL scopes it to the exporter that produced it.
type Record struct {
	TimestampNS  int64   `json:"timestamp_ns"`
	DCGMURL      string  `json:"dcgm_url"`
	GPUUUID      string  `json:"gpu_uuid"`
	GPUIndex     int     `json:"gpu_index"`
	GPUModelName string  `json:"gpu_model_name,omitempty"`
	PCIBusID     string  `json:"pci_bus_id,omitempty"`
	Device       string  `json:"device,omitempty"`
	Hostname     string  `json:"hostname,omitempty"`
	Metrics      Metrics `json:"metrics"`
}
