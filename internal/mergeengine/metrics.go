package mergeengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/prstate"
)

const metricNamespace = "gatekeeper_merge_engine"

const (
	processedEventsMetricName   = "processed_change_events_total"
	publishedStatusesMetricName = "published_statuses_total"
	conflictCommentsMetricName  = "conflict_comments_total"
)

const (
	repositoryLabel = "repository"
	eventLabel      = "event"
	resultLabel     = "result"
	stateLabel      = "state"
)

type eventResultLabelVal string

const (
	eventResultSuccessVal eventResultLabelVal = "success"
	eventResultSkippedVal eventResultLabelVal = "skipped"
	eventResultFailedVal  eventResultLabelVal = "failed"
)

type metricCollector struct {
	logger            *zap.Logger
	processedEvents   *prometheus.CounterVec
	publishedStatuses *prometheus.CounterVec
	conflictComments  *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      processedEventsMetricName,
				Help:      "count of processed change events",
			},
			[]string{eventLabel, resultLabel},
		),
		publishedStatuses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      publishedStatusesMetricName,
				Help:      "count of created commit statuses",
			},
			[]string{repositoryLabel, stateLabel},
		),
		conflictComments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      conflictCommentsMetricName,
				Help:      "count of created merge conflict comments",
			},
			[]string{repositoryLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) ProcessedEventsInc(event string, result eventResultLabelVal) {
	cnt, err := m.processedEvents.GetMetricWith(prometheus.Labels{
		eventLabel:  event,
		resultLabel: string(result),
	})
	if err != nil {
		m.logGetMetricFailed(processedEventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) PublishedStatusesInc(repo prstate.Repository, state string) {
	cnt, err := m.publishedStatuses.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		stateLabel:      state,
	})
	if err != nil {
		m.logGetMetricFailed(publishedStatusesMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) ConflictCommentsInc(repo prstate.Repository) {
	cnt, err := m.conflictComments.GetMetricWith(prometheus.Labels{repositoryLabel: repo.String()})
	if err != nil {
		m.logGetMetricFailed(conflictCommentsMetricName, err)
		return
	}

	cnt.Inc()
}
