package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dcgmScrape = `# HELP DCGM_FI_DEV_POWER_USAGE Power draw (in W).
# TYPE DCGM_FI_DEV_POWER_USAGE gauge
DCGM_FI_DEV_POWER_USAGE{gpu="0",UUID="GPU-aaa",modelName="NVIDIA H100",Hostname="node-1",pci_bus_id="00000000:01:00.0",device="nvidia0"} 351.5
DCGM_FI_DEV_POWER_USAGE{gpu="1",UUID="GPU-bbb",modelName="NVIDIA H100",Hostname="node-1"} 298.0
# HELP DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION Total energy consumption since boot (in mJ).
# TYPE DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION counter
DCGM_FI_DEV_TOTAL_ENERGY_CONSUMPTION{gpu="0",UUID="GPU-aaa"} 2000000000
# HELP DCGM_FI_DEV_FB_USED Framebuffer memory used (in MiB).
# TYPE DCGM_FI_DEV_FB_USED gauge
DCGM_FI_DEV_FB_USED{gpu="0",UUID="GPU-aaa"} 1000
# HELP DCGM_FI_DEV_GPU_TEMP GPU temperature (in C).
# TYPE DCGM_FI_DEV_GPU_TEMP gauge
DCGM_FI_DEV_GPU_TEMP{gpu="0",UUID="GPU-aaa"} NaN
# HELP DCGM_FI_DEV_SM_CLOCK SM clock frequency (in MHz).
# TYPE DCGM_FI_DEV_SM_CLOCK gauge
DCGM_FI_DEV_SM_CLOCK{gpu="bad",UUID="GPU-ccc"} 1410
`

func TestParseDCGM(t *testing.T) {
	recs, err := ParseDCGM(strings.NewReader(dcgmScrape), "http://node-1:9400/metrics", 42)
	require.NoError(t, err)
	require.Len(t, recs, 2, "non-numeric gpu label must drop the row")

	byUUID := map[string]*Record{}
	for _, rec := range recs {
		byUUID[rec.GPUUUID] = rec
	}
	require.Contains(t, byUUID, "GPU-aaa")
	require.Contains(t, byUUID, "GPU-bbb")
	require.NotContains(t, byUUID, "GPU-ccc")

	gpu0 := byUUID["GPU-aaa"]
	assert.Equal(t, int64(42), gpu0.TimestampNS)
	assert.Equal(t, "http://node-1:9400/metrics", gpu0.DCGMURL)
	assert.Equal(t, 0, gpu0.GPUIndex)
	assert.Equal(t, "NVIDIA H100", gpu0.GPUModelName)
	assert.Equal(t, "node-1", gpu0.Hostname)
	assert.Equal(t, "00000000:01:00.0", gpu0.PCIBusID)
	assert.Equal(t, "nvidia0", gpu0.Device)

	require.NotNil(t, gpu0.Metrics.GPUPowerUsage)
	assert.Equal(t, 351.5, *gpu0.Metrics.GPUPowerUsage)

	// mJ -> MJ and MiB -> GB at parse time.
	require.NotNil(t, gpu0.Metrics.EnergyConsumption)
	assert.InDelta(t, 2.0, *gpu0.Metrics.EnergyConsumption, 1e-9)
	require.NotNil(t, gpu0.Metrics.GPUMemoryUsed)
	assert.InDelta(t, 1.048576, *gpu0.Metrics.GPUMemoryUsed, 1e-9)

	// NaN samples are left nil.
	assert.Nil(t, gpu0.Metrics.GPUTemperature)

	gpu1 := byUUID["GPU-bbb"]
	assert.Equal(t, 1, gpu1.GPUIndex)
	require.NotNil(t, gpu1.Metrics.GPUPowerUsage)
	assert.Equal(t, 298.0, *gpu1.Metrics.GPUPowerUsage)
}

func TestParseDCGMSkipsUnknownFamilies(t *testing.T) {
	scrape := `DCGM_FI_DEV_UNKNOWN_THING{gpu="0",UUID="GPU-aaa"} 1
`
	recs, err := ParseDCGM(strings.NewReader(scrape), "http://x/metrics", 1)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestParseDCGMMalformed(t *testing.T) {
	_, err := ParseDCGM(strings.NewReader("DCGM_FI_DEV_GPU_UTIL{gpu=\n"), "http://x/metrics", 1)
	require.Error(t, err)
}

func TestHierarchyAdd(t *testing.T) {
	h := NewHierarchy()

	power1, power2, util := 300.0, 310.0, 90.0
	h.Add(&Record{
		TimestampNS: 1, DCGMURL: "http://a/metrics", GPUUUID: "GPU-aaa",
		GPUIndex: 0, GPUModelName: "H100",
		Metrics: Metrics{GPUPowerUsage: &power1},
	})
	// Conflicting metadata on a later record is ignored.
	h.Add(&Record{
		TimestampNS: 2, DCGMURL: "http://a/metrics", GPUUUID: "GPU-aaa",
		GPUIndex: 7, GPUModelName: "other",
		Metrics: Metrics{GPUPowerUsage: &power2, GPUUtilization: &util},
	})
	h.Add(&Record{
		TimestampNS: 1, DCGMURL: "http://b/metrics", GPUUUID: "GPU-bbb",
	})

	var visits []string
	h.Each(func(url, uuid string, data *GPUData) {
		visits = append(visits, url+"/"+uuid)
		if uuid == "GPU-aaa" {
			assert.Equal(t, 0, data.GPUIndex)
			assert.Equal(t, "H100", data.GPUModelName)
			assert.Equal(t, []float64{300, 310}, data.MetricValues("gpu_power_usage"))
			assert.Equal(t, []float64{90}, data.MetricValues("gpu_utilization"))
		}
	})
	assert.Equal(t, []string{"http://a/metrics/GPU-aaa", "http://b/metrics/GPU-bbb"}, visits)
}
