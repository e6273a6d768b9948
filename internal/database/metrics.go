package database

import (
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func (s *Store) SaveMetric(metricName string, value float64) error {
	query := `
	INSERT OR REPLACE INTO metrics (metric_name, metric_value)
	VALUES (?, ?);`
	_, err := s.db.Exec(query, metricName, value)
	if err != nil {
		return storeErr("save metric", err)
	}
	log.Debugf("Metric saved: %s = %f", metricName, value)
	return nil
}

// GetMetric defaults to 0 for metrics that were never saved.
func (s *Store) GetMetric(metricName string) (float64, error) {
	var value float64
	query := `SELECT metric_value FROM metrics WHERE metric_name = ?;`
	err := s.db.QueryRow(query, metricName).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debugf("Metric %s not found in the database, defaulting to 0", metricName)
		return 0, nil
	} else if err != nil {
		return 0, storeErr("get metric "+metricName, err)
	}
	return value, nil
}

// SaveMetricWithLabels stores one series of a labelled metric. labels is the
// encoded label set and identifies the series together with metricName.
func (s *Store) SaveMetricWithLabels(metricName, labels string, value float64) error {
	query := `
	INSERT OR REPLACE INTO labelled_metrics (metric_name, labels, metric_value)
	VALUES (?, ?, ?);`
	_, err := s.db.Exec(query, metricName, labels, value)
	if err != nil {
		return storeErr("save metric with labels", err)
	}
	log.Debugf("Metric with labels saved: %s[%s] = %f", metricName, labels, value)
	return nil
}

// GetMetricsWithLabels returns every stored series of metricName keyed by its encoded labels.
func (s *Store) GetMetricsWithLabels(metricName string) (map[string]float64, error) {
	query := `
	SELECT labels, metric_value
	FROM labelled_metrics
	WHERE metric_name = ?;`

	rows, err := s.db.Query(query, metricName)
	if err != nil {
		return nil, storeErr("query metrics with labels", err)
	}
	defer rows.Close()

	series := make(map[string]float64)
	for rows.Next() {
		var (
			labels string
			value  float64
		)
		if err := rows.Scan(&labels, &value); err != nil {
			return nil, storeErr("scan metric with labels", err)
		}
		series[labels] = value
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate metrics with labels", err)
	}
	return series, nil
}
