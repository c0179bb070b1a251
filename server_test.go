package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"bitbucket.org/opticorelab/labsupply_backend/models"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("%w: order 9", models.ErrNotFound), http.StatusNotFound},
		{"record not found", utils.ErrorRecordNotFound, http.StatusNotFound},
		{"concurrency conflict", models.ErrConcurrencyConflict, http.StatusConflict},
		{"already reversed", models.ErrAlreadyReversed, http.StatusConflict},
		{"os cap", fmt.Errorf("%w: %q", models.ErrTooManyItemsForOS, "OS-1"), http.StatusConflict},
		{"wrong state", fmt.Errorf("%w: order 9 is not pending payment", models.ErrInvalidState), http.StatusConflict},
		{"bad prescription", models.ErrInvalidPrescription, http.StatusUnprocessableEntity},
		{"price over ceiling", models.ErrPriceExceedsRule, http.StatusUnprocessableEntity},
		{"no rule", models.ErrRuleNotFound, http.StatusUnprocessableEntity},
		{"bad submission", fmt.Errorf("%w: pairing Full requires 2 item(s)", models.ErrInvalidSubmission), http.StatusUnprocessableEntity},
		{"missing identity", fmt.Errorf("%w: business id is required", models.ErrUnauthenticated), http.StatusUnauthorized},
		{"unknown failure is a server fault", errors.New("dial tcp: connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForError(tc.err); got != tc.want {
				t.Fatalf("statusForError(%v) = %d; want %d", tc.err, got, tc.want)
			}
		})
	}
}
