package metrics

import "strings"

const metricPrefix = "pagerag_"

// MetricName ensures the metric name carries the project prefix.
func MetricName(name string) string {
	if strings.HasPrefix(name, metricPrefix) {
		return name
	}
	return metricPrefix + name
}

// MetricNameWithSubsystem builds a prefixed metric name scoped to a subsystem.
func MetricNameWithSubsystem(subsystem string, name string) string {
	sub := strings.Trim(subsystem, "_")
	if sub == "" {
		return MetricName(name)
	}
	if name == "" {
		return MetricName(sub)
	}
	return MetricName(sub + "_" + name)
}
