package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source supplies the values for one scrape. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter serves a Source as a Prometheus scrape target.
type Exporter struct {
	src Source
}

var _ http.Handler = (*Exporter)(nil)

// New returns an Exporter that snapshots src on every scrape.
func New(src Source) *Exporter {
	return &Exporter{src: src}
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(e.Render()))
}

// Render formats one snapshot. An engine built with metrics disabled and no
// dropped audit events renders as "".
func (e *Exporter) Render() string {
	if e == nil || e.src == nil {
		return ""
	}
	snap := e.src.MetricsSnapshot()
	dropped := e.src.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var out exposition
	out.Grow(64 * (len(internaldefs.CounterDefs) + 2*internaldefs.BucketCount))
	for _, def := range internaldefs.CounterDefs {
		out.counter(def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		out.histogram(def.Name, def.Help, internaldefs.CumulativeBuckets(snap.Histograms[def.ID]))
	}
	out.counter(internaldefs.AuditDroppedName, "Audit events dropped by a full dispatcher queue.", dropped)
	return out.String()
}

// exposition accumulates text format 0.0.4 lines.
type exposition struct {
	strings.Builder
}

func (x *exposition) family(name, help, kind string) {
	x.WriteString("# HELP " + name + " ")
	// Help text escapes backslash and newline only.
	x.WriteString(strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help))
	x.WriteString("\n# TYPE " + name + " " + kind + "\n")
}

func (x *exposition) sample(name, labels string, v uint64) {
	x.WriteString(name)
	x.WriteString(labels)
	x.WriteByte(' ')
	x.WriteString(strconv.FormatUint(v, 10))
	x.WriteByte('\n')
}

func (x *exposition) counter(name, help string, v uint64) {
	x.family(name, help, "counter")
	x.sample(name, "", v)
}

// histogram writes cumulative buckets. The engine records no latency sum,
// so _sum is always 0.
func (x *exposition) histogram(name, help string, buckets [internaldefs.BucketCount]uint64) {
	x.family(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		x.sample(name+"_bucket", `{le="`+le+`"}`, buckets[i])
	}
	x.sample(name+"_count", "", buckets[len(buckets)-1])
	x.sample(name+"_sum", "", 0)
}
