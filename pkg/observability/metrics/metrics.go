package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	refreshSucceeded     atomic.Int64
	refreshFailed        atomic.Int64
	staleServed          atomic.Int64
	analysisComputed     atomic.Int64
	snapshotObservations atomic.Int64
	snapshotParticipants atomic.Int64
	snapshotExclusions   atomic.Int64
)

func ObserveRefresh(observations, participants, exclusions int) {
	refreshSucceeded.Add(1)
	snapshotObservations.Store(int64(observations))
	snapshotParticipants.Store(int64(participants))
	snapshotExclusions.Store(int64(exclusions))
}

func ObserveRefreshFailure() {
	refreshFailed.Add(1)
}

func ObserveStaleServe() {
	staleServed.Add(1)
}

func ObserveAnalysis() {
	analysisComputed.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP rm4health_dashboard_refresh_succeeded_total Number of dataset refreshes that completed.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_refresh_succeeded_total counter\n")
	fmt.Fprintf(w, "rm4health_dashboard_refresh_succeeded_total %d\n", refreshSucceeded.Load())

	fmt.Fprintf(w, "# HELP rm4health_dashboard_refresh_failed_total Number of dataset refreshes that failed.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_refresh_failed_total counter\n")
	fmt.Fprintf(w, "rm4health_dashboard_refresh_failed_total %d\n", refreshFailed.Load())

	fmt.Fprintf(w, "# HELP rm4health_dashboard_stale_served_total Number of reads served from an expired cache entry.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_stale_served_total counter\n")
	fmt.Fprintf(w, "rm4health_dashboard_stale_served_total %d\n", staleServed.Load())

	fmt.Fprintf(w, "# HELP rm4health_dashboard_analysis_computed_total Number of analysis results computed or served.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_analysis_computed_total counter\n")
	fmt.Fprintf(w, "rm4health_dashboard_analysis_computed_total %d\n", analysisComputed.Load())

	fmt.Fprintf(w, "# HELP rm4health_dashboard_snapshot_observations Observations in the latest snapshot.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_snapshot_observations gauge\n")
	fmt.Fprintf(w, "rm4health_dashboard_snapshot_observations %d\n", snapshotObservations.Load())

	fmt.Fprintf(w, "# HELP rm4health_dashboard_snapshot_participants Participants in the latest snapshot.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_snapshot_participants gauge\n")
	fmt.Fprintf(w, "rm4health_dashboard_snapshot_participants %d\n", snapshotParticipants.Load())

	fmt.Fprintf(w, "# HELP rm4health_dashboard_snapshot_exclusions Records excluded from the latest snapshot.\n")
	fmt.Fprintf(w, "# TYPE rm4health_dashboard_snapshot_exclusions gauge\n")
	fmt.Fprintf(w, "rm4health_dashboard_snapshot_exclusions %d\n", snapshotExclusions.Load())
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}
