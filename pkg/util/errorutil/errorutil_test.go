package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelsMatchByCode(t *testing.T) {
	err := fmt.Errorf("assign: %w", NewAlreadyAssigned("s1", nil))
	if !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned to match %v", err)
	}
	if errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("did not expect ErrInvalidTransition to match")
	}
	if CodeOf(err) != CodeAlreadyAssigned {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
}

func TestToDomainErrorWrapsUnknown(t *testing.T) {
	de := ToDomainError(errors.New("boom"))
	if de.Code != CodeInternal || de.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unexpected mapping: %+v", de)
	}
	if ToDomainError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestDuplicateActiveSessionCarriesExistingID(t *testing.T) {
	de := ToDomainError(NewDuplicateActiveSession("c1", "s9"))
	if de.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409, got %d", de.HTTPStatus)
	}
	if de.Details["session_id"] != "s9" {
		t.Fatalf("expected existing session id in details, got %v", de.Details)
	}
}
