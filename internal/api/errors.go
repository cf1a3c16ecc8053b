package api

import (
	"net/http"

	"github.com/Signet-AI/signetai-sub002/internal/apierr"
)

// statusForErr maps any error onto an HTTP status, using the apierr
// taxonomy (spec §7) when the error carries one and falling back to 500.
func statusForErr(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return apierr.StatusFor(err)
}
