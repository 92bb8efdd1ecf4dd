package otel

import (
	"context"
	"errors"
	"fmt"

	portalauth "github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() portalauth.MetricsSnapshot
	AuditDropped() uint64
}

// observation is one counter value reported under a fixed attribute set.
type observation struct {
	id   portalauth.MetricID
	opts []metric.ObserveOption
}

type counterFamily struct {
	instrument metric.Int64ObservableCounter
	members    []observation
}

type histogram struct {
	id      portalauth.MetricID
	buckets metric.Int64ObservableGauge
	bounds  []metric.ObserveOption
	count   metric.Int64ObservableGauge
	sum     metric.Float64ObservableGauge
}

// OTelExporter publishes engine metrics as observable instruments read in a
// single callback per collection.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []counterFamily
	histograms   []histogram
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *portalauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter for any metrics source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, fam := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", fam.Name, err)
		}
		cf := counterFamily{instrument: ins}
		for _, m := range fam.Members {
			cf.members = append(cf.members, observation{id: m.ID, opts: labelOptions(m.Label)})
		}
		e.families = append(e.families, cf)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h, err := newHistogram(meter, def)
		if err != nil {
			return nil, err
		}
		e.histograms = append(e.histograms, h)
		observables = append(observables, h.buckets, h.count, h.sum)
	}

	dropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

// newHistogram reports cumulative buckets on one gauge keyed by the le
// attribute.
func newHistogram(meter metric.Meter, def internaldefs.HistogramDef) (histogram, error) {
	h := histogram{id: def.ID}
	var err error
	h.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription("Cumulative bucket counts of "+def.Name+"."))
	if err != nil {
		return h, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
	}
	h.count, err = meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Sample count of "+def.Name+"."))
	if err != nil {
		return h, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
	}
	h.sum, err = meter.Float64ObservableGauge(def.Name+"_sum", metric.WithDescription("Observed seconds of "+def.Name+"."), metric.WithUnit("s"))
	if err != nil {
		return h, fmt.Errorf("create histogram sum gauge %s: %w", def.Name, err)
	}
	for _, le := range internaldefs.HistogramBounds {
		h.bounds = append(h.bounds, metric.WithAttributes(attribute.String("le", le)))
	}
	return h, nil
}

func labelOptions(l internaldefs.Label) []metric.ObserveOption {
	if l.Key == "" {
		return nil
	}
	return []metric.ObserveOption{metric.WithAttributes(attribute.String(l.Key, l.Value))}
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, fam := range e.families {
		for _, m := range fam.members {
			o.ObserveInt64(fam.instrument, int64(snapshot.Counters[m.id]), m.opts...)
		}
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, opt := range h.bounds {
			o.ObserveInt64(h.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(h.sum, snapshot.HistogramSums[h.id].Seconds())
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
