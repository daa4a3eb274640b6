package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/spokescan/spokescan/pkg/rewards"
)

const defaultLimit = 10

type page struct {
	Limit  int
	Offset int
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidOffset = &parseError{msg: "invalid offset"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

// parsePage reads limit and offset; the service clamps them to its bounds.
func parsePage(r *http.Request) (page, error) {
	qs := r.URL.Query()
	p := page{Limit: defaultLimit}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return page{}, errInvalidLimit
		}
		p.Limit = n
	}
	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page{}, errInvalidOffset
		}
		p.Offset = n
	}
	return p, nil
}

// queryError maps reward service errors: a malformed wallet is the caller's fault.
func (c *Controller) queryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rewards.ErrInvalidAddress) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.internalError(w, r, err)
}

func (c *Controller) HandleEarnedRewards(w http.ResponseWriter, r *http.Request) {
	out, err := c.App.Rewards.GetEarnedRewards(r.Context(), r.URL.Query().Get("userAddress"))
	if err != nil {
		c.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleReferralDeposits(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := c.App.Rewards.GetReferralRewardDeposits(r.Context(), r.URL.Query().Get("userAddress"), p.Limit, p.Offset)
	if err != nil {
		c.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleReferralSummary(w http.ResponseWriter, r *http.Request) {
	out, err := c.App.Rewards.GetReferralSummary(r.Context(), r.URL.Query().Get("userAddress"))
	if err != nil {
		c.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleOpRebateDeposits(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := c.App.Rewards.GetOpRebateRewardDeposits(r.Context(), r.URL.Query().Get("userAddress"), p.Limit, p.Offset)
	if err != nil {
		c.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleOpRebatesSummary(w http.ResponseWriter, r *http.Request) {
	out, err := c.App.Rewards.GetOpRebatesSummary(r.Context(), r.URL.Query().Get("userAddress"))
	if err != nil {
		c.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
