package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portero_build_info",
			Help: "Portero build information; the value is always 1.",
		},
		[]string{"version", "commit", "binary"},
	)
)

// InitBuildInfo registers portero_build_info once and sets it for this binary.
func InitBuildInfo(binary, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.WithLabelValues(version, commit, binary).Set(1)
	l := Logger()
	l.Info().Str("binary", binary).Str("version", version).Str("commit", commit).Msg("build info")
}
