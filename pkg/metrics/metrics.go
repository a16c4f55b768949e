// Package metrics exposes prometheus collectors for batch submissions and
// for the local Livy emulator.
package metrics

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/provider"
	"github.com/3leaps/livyctl/pkg/submission"
)

const (
	DefaultPrefix = "livyctl_"

	labelCluster = "cluster"
	labelReason  = "reason"
	labelState   = "state"
)

// Reasons used as label values on failure counters.
const (
	ReasonAuth        = "auth"
	ReasonNetwork     = "network"
	ReasonSubmission  = "submission"
	ReasonParse       = "parse"
	ReasonNotFound    = "not_found"
	ReasonCanceled    = "canceled"
	ReasonJobFailed   = "job_failed"
	ReasonUnavailable = "unavailable"
	ReasonOther       = "other"
)

// ValidName replaces characters prometheus does not accept in metric names.
func ValidName(prefix, name string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(prefix + name)
}

// SubmissionMetrics records client-side submission outcomes. It satisfies
// submission.Recorder.
type SubmissionMetrics struct {
	deployCount        *prometheus.CounterVec
	deployFailureCount *prometheus.CounterVec
	deployAttempts     *prometheus.SummaryVec
	successCount       *prometheus.CounterVec
	failureCount       *prometheus.CounterVec
}

func NewSubmissionMetrics(prefix string) *SubmissionMetrics {
	return &SubmissionMetrics{
		deployCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidName(prefix, "artifact_deploy_count"),
				Help: "Total number of uploaded job artifacts",
			},
			[]string{labelCluster},
		),
		deployFailureCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidName(prefix, "artifact_deploy_failure_count"),
				Help: "Total number of failed artifact uploads",
			},
			[]string{labelCluster, labelReason},
		),
		deployAttempts: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: ValidName(prefix, "artifact_deploy_attempts"),
				Help: "Upload attempts per artifact deployment",
			},
			[]string{labelCluster},
		),
		successCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidName(prefix, "batch_success_count"),
				Help: "Total number of batch jobs that finished successfully",
			},
			[]string{labelCluster},
		),
		failureCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidName(prefix, "batch_failure_count"),
				Help: "Total number of failed batch submissions and jobs",
			},
			[]string{labelCluster, labelReason},
		),
	}
}

// Register adds every collector to reg.
func (m *SubmissionMetrics) Register(reg prometheus.Registerer) error {
	return register(reg, m.deployCount, m.deployFailureCount, m.deployAttempts, m.successCount, m.failureCount)
}

func (m *SubmissionMetrics) Deployed(cluster string, attempts int, err error) {
	if attempts > 0 {
		m.deployAttempts.WithLabelValues(cluster).Observe(float64(attempts))
	}
	if err != nil {
		m.deployFailureCount.WithLabelValues(cluster, Reason(err)).Inc()
		return
	}
	m.deployCount.WithLabelValues(cluster).Inc()
}

func (m *SubmissionMetrics) Finished(cluster string, state livy.State, err error) {
	switch {
	case err != nil:
		m.failureCount.WithLabelValues(cluster, Reason(err)).Inc()
	case state.IsSuccess():
		m.successCount.WithLabelValues(cluster).Inc()
	default:
		m.failureCount.WithLabelValues(cluster, ReasonJobFailed).Inc()
	}
}

// Reason maps an error onto a bounded label value.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case livy.IsCanceled(err):
		return ReasonCanceled
	case errors.Is(err, submission.ErrServiceUnavailable):
		return ReasonUnavailable
	case livy.IsAuth(err):
		return ReasonAuth
	case livy.IsSubmission(err):
		return ReasonSubmission
	case livy.IsParse(err):
		return ReasonParse
	case livy.IsNotFound(err):
		return ReasonNotFound
	case livy.IsNetwork(err):
		return ReasonNetwork
	case provider.IsProviderUnavailable(err), provider.IsThrottled(err):
		return ReasonUnavailable
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return ReasonAuth
	}
	return ReasonOther
}

// EmulatorMetrics counts batches handled by the local Livy emulator.
type EmulatorMetrics struct {
	createdCount *prometheus.CounterVec
	killedCount  prometheus.Counter
	runningCount prometheus.Gauge
	finished     *prometheus.CounterVec
}

func NewEmulatorMetrics(prefix string) *EmulatorMetrics {
	return &EmulatorMetrics{
		createdCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidName(prefix, "emulator_batch_created_count"),
				Help: "Total number of batches created on the emulator",
			},
			[]string{"kind"},
		),
		killedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: ValidName(prefix, "emulator_batch_killed_count"),
			Help: "Total number of batches deleted on the emulator",
		}),
		runningCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: ValidName(prefix, "emulator_batch_running_count"),
			Help: "Number of emulator batches not yet finished",
		}),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidName(prefix, "emulator_batch_finished_count"),
				Help: "Total number of emulator batches by final state",
			},
			[]string{labelState},
		),
	}
}

func (m *EmulatorMetrics) Register(reg prometheus.Registerer) error {
	return register(reg, m.createdCount, m.killedCount, m.runningCount, m.finished)
}

// BatchCreated records a new batch; kind is "jar" or "python".
func (m *EmulatorMetrics) BatchCreated(kind string) {
	m.createdCount.WithLabelValues(kind).Inc()
	m.runningCount.Inc()
}

func (m *EmulatorMetrics) BatchKilled() {
	m.killedCount.Inc()
}

// BatchFinished records a terminal transition. Each batch must report at
// most once.
func (m *EmulatorMetrics) BatchFinished(raw string) {
	m.runningCount.Dec()
	m.finished.WithLabelValues(raw).Inc()
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	var errs []error
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
