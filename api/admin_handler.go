package api

import (
	"net/http"

	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/notify"
)

func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.eng.ClusterStore().ListWorkers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if workers == nil {
		workers = []*cluster.Worker{}
	}
	a.writeJSON(w, http.StatusOK, workers)
}

func (a *API) listCrons(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.CronStore().ListCrons(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*cron.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

// Stats is the body for GET /v1/stats.
type Stats struct {
	Jobs    map[string]int64   `json:"jobs"`
	Workers int                `json:"workers"`
	Notify  notify.BrokerStats `json:"notify"`
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		Jobs:   make(map[string]int64, len(allStatuses)),
		Notify: a.eng.Broker().Stats(),
	}
	for _, status := range allStatuses {
		n, err := a.eng.JobStore().CountJobs(r.Context(), job.CountOpts{Status: status})
		if err != nil {
			a.writeError(w, err)
			return
		}
		stats.Jobs[string(status)] = n
	}

	workers, err := a.eng.ClusterStore().ListWorkers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	stats.Workers = len(workers)

	a.writeJSON(w, http.StatusOK, stats)
}
