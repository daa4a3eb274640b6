package controller

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/spokescan/spokescan/pkg/airdrop"
	"github.com/spokescan/spokescan/pkg/rewards"
	"github.com/spokescan/spokescan/pkg/utils"
)

const (
	walletRewardsField    = "walletRewardsFile"
	communityRewardsField = "communityRewardsFile"
	maxUploadBytes        = 32 << 20
)

func (c *Controller) HandleAirdropRewards(w http.ResponseWriter, r *http.Request) {
	out, err := airdrop.GetRewards(r.Context(), c.App.Airdrop, r.URL.Query().Get("address"))
	if err != nil {
		c.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleAirdropUpload imports the wallet and/or community reward files of a multipart form.
func (c *Controller) HandleAirdropUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var (
		files airdrop.Files
		err   error
	)
	if files.Wallet, err = formFile(r.MultipartForm, walletRewardsField); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if files.Community, err = formFile(r.MultipartForm, communityRewardsField); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if files.Wallet == nil && files.Community == nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("expected %s and/or %s", walletRewardsField, communityRewardsField))
		return
	}

	counts, err := c.App.Importer.Process(r.Context(), files)
	if err != nil {
		var ie *airdrop.ImportError
		if errors.As(err, &ie) && (errors.Is(err, airdrop.ErrMalformedPayload) || errors.Is(err, rewards.ErrInvalidAddress)) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": string(ie.Kind)})
			return
		}
		c.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// formFile returns the named upload as a Source, nil when the field is absent.
func formFile(form *multipart.Form, field string) (airdrop.Source, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	f, err := headers[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer func() { _ = utils.DrainAndClose(f) }()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return airdrop.Bytes(headers[0].Filename, raw), nil
}
