package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spokescan/spokescan/pkg/temporal"
	"go.uber.org/zap"
)

func (c *Controller) queue(w http.ResponseWriter, r *http.Request) (temporal.Queue, bool) {
	q, err := temporal.ParseQueue(mux.Vars(r)["queue"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return q, true
}

func (c *Controller) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	q, ok := c.queue(w, r)
	if !ok {
		return
	}
	jobs, err := c.App.Queues.ListFailed(r.Context(), q)
	if err != nil {
		c.internalError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []temporal.FailedJob{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queue": q, "jobs": jobs})
}

func (c *Controller) HandleRetryFailed(w http.ResponseWriter, r *http.Request) {
	q, ok := c.queue(w, r)
	if !ok {
		return
	}
	n, err := c.App.Queues.RetryFailed(r.Context(), q)
	if err != nil {
		c.internalError(w, r, err)
		return
	}
	c.App.Logger.Info("Retried failed jobs", zap.String("queue", string(q)), zap.Int("count", n))
	writeJSON(w, http.StatusOK, map[string]interface{}{"queue": q, "retried": n})
}
