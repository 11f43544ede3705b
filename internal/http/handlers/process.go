package handlers

import (
	"net/http"
)

// Process runs one processing cycle synchronously and reports its result.
func (a *App) Process(w http.ResponseWriter, r *http.Request) {
	res, err := a.Cycles.RunCycle(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: processing cycle failed")
		a.json(w, http.StatusInternalServerError, map[string]any{
			"error":   "internal",
			"message": err.Error(),
			"result":  res,
		})
		return
	}
	a.json(w, http.StatusOK, res)
}

// Cleanup runs the retention sweep on demand.
func (a *App) Cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := a.Retention.Sweep(r.Context())
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}
