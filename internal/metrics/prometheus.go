package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// ContentType is the Prometheus text exposition media type.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// FormatPrometheus renders snap in the Prometheus text exposition format.
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	writeHeader(&sb, "chatrelay_uptime_seconds", "Time since the relay started", "gauge")
	fmt.Fprintf(&sb, "chatrelay_uptime_seconds %d\n\n", snap.Uptime)

	writeLabeled(&sb, "chatrelay_http_requests_total", "HTTP requests by route", "counter", "route", snap.TotalRequests)
	writeLabeled(&sb, "chatrelay_http_request_duration_ms_total", "Cumulative HTTP request duration by route", "counter", "route", snap.TotalRequestsDur)
	writeLabeled(&sb, "chatrelay_http_request_errors_total", "HTTP 5xx responses by route", "counter", "route", snap.RequestErrors)
	writeLabeled(&sb, "chatrelay_http_requests_in_progress", "HTTP requests currently being served", "gauge", "route", snap.RequestsInProgress)

	writeLabeled(&sb, "chatrelay_exchanges_total", "Finished exchanges by outcome", "counter", "outcome", snap.Exchanges)
	writeLabeled(&sb, "chatrelay_upstream_failures_total", "Exchanges refused before the first fragment", "counter", "model", snap.UpstreamFailures)

	writeHeader(&sb, "chatrelay_fragments_total", "Fragments forwarded to clients", "counter")
	fmt.Fprintf(&sb, "chatrelay_fragments_total %d\n\n", snap.Fragments)
	writeHeader(&sb, "chatrelay_ttfb_ms_total", "Cumulative time to first fragment", "counter")
	fmt.Fprintf(&sb, "chatrelay_ttfb_ms_total %d\n\n", snap.TTFBMs)
	writeHeader(&sb, "chatrelay_exchange_duration_ms_total", "Cumulative exchange duration", "counter")
	fmt.Fprintf(&sb, "chatrelay_exchange_duration_ms_total %d\n\n", snap.ExchangeMs)

	writeHeader(&sb, "chatrelay_tokens_total", "Estimated tokens by type", "counter")
	fmt.Fprintf(&sb, "chatrelay_tokens_total{type=\"prompt\"} %d\n", snap.TotalPromptTokens)
	fmt.Fprintf(&sb, "chatrelay_tokens_total{type=\"completion\"} %d\n\n", snap.TotalCompletionTokens)
	writeLabeled(&sb, "chatrelay_tokens_by_model_total", "Estimated tokens by model", "counter", "model", snap.TokensByModel)

	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeLabeled(sb *strings.Builder, name, help, kind, label string, values map[string]int64) {
	writeHeader(sb, name, help, kind)
	for _, key := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=\"%s\"} %d\n", name, label, escapeLabel(key), values[key])
	}
	sb.WriteString("\n")
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
