package telemetry

// Snapshot groups every metric value one poll collected for one GPU, so the
// timestamp is stored once per poll instead of once per metric.
type Snapshot struct {
	TimestampNS int64              `json:"timestamp_ns"`
	Metrics     map[string]float64 `json:"metrics"`
}

// GPUData is one GPU's metadata plus its whole time series.
type GPUData struct {
	GPUUUID      string     `json:"gpu_uuid"`
	GPUIndex     int        `json:"gpu_index"`
	GPUModelName string     `json:"gpu_model_name,omitempty"`
	PCIBusID     string     `json:"pci_bus_id,omitempty"`
	Device       string     `json:"device,omitempty"`
	Hostname     string     `json:"hostname,omitempty"`
	TimeSeries   []Snapshot `json:"time_series"`
}

// MetricValues extracts one metric's values over time, in poll order.
func (d *GPUData) MetricValues(name string) []float64 {
	var out []float64
	for _, snap := range d.TimeSeries {
		if v, ok := snap.Metrics[name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Hierarchy accumulates telemetry records by DCGM endpoint and GPU UUID.
// Owned by a single results processor; not safe for concurrent use.
type Hierarchy struct {
	endpoints map[string]map[string]*GPUData
	urls      []string
	uuids     map[string][]string
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		endpoints: map[string]map[string]*GPUData{},
		uuids:     map[string][]string{},
	}
}

// Add appends one record's metrics as a snapshot. Metadata is written on
// first sight of a (dcgm_url, gpu_uuid) pair and left alone afterwards, so
// adding is idempotent over metadata.
func (h *Hierarchy) Add(rec *Record) {
	gpus, ok := h.endpoints[rec.DCGMURL]
	if !ok {
		gpus = map[string]*GPUData{}
		h.endpoints[rec.DCGMURL] = gpus
		h.urls = append(h.urls, rec.DCGMURL)
	}

	data, ok := gpus[rec.GPUUUID]
	if !ok {
		data = &GPUData{
			GPUUUID:      rec.GPUUUID,
			GPUIndex:     rec.GPUIndex,
			GPUModelName: rec.GPUModelName,
			PCIBusID:     rec.PCIBusID,
			Device:       rec.Device,
			Hostname:     rec.Hostname,
		}
		gpus[rec.GPUUUID] = data
		h.uuids[rec.DCGMURL] = append(h.uuids[rec.DCGMURL], rec.GPUUUID)
	}

	snap := Snapshot{TimestampNS: rec.TimestampNS, Metrics: map[string]float64{}}
	rec.Metrics.Each(func(name string, value float64) {
		snap.Metrics[name] = value
	})
	data.TimeSeries = append(data.TimeSeries, snap)
}

// Each visits every GPU in insertion order.
func (h *Hierarchy) Each(fn func(dcgmURL, gpuUUID string, data *GPUData)) {
	for _, url := range h.urls {
		for _, uuid := range h.uuids[url] {
			fn(url, uuid, h.endpoints[url][uuid])
		}
	}
}
