package abort

import (
	"fmt"
	"net/http"
	"testing"
)

func TestConstructorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"invalid", Invalid("empty name"), http.StatusBadRequest},
		{"conflict", Conflict("duplicate name %q", "Top 2024"), http.StatusConflict},
		{"not found", NotFound("list not found"), http.StatusNotFound},
		{"locked", Locked(2022, "reorder items"), http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Status != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, tc.err.Status)
			}
			if tc.err.Error() == "" {
				t.Fatalf("expected a message")
			}
		})
	}
}

func TestLockedPayload(t *testing.T) {
	err := Locked(2022, "change main list")
	if err.Fields["year"] != 2022 {
		t.Fatalf("expected year field, got %#v", err.Fields)
	}
	if err.Fields["action"] != "change main list" {
		t.Fatalf("expected action field, got %#v", err.Fields)
	}
}

func TestFromUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("apply entry: %w", Conflict("duplicate"))
	ab, ok := From(wrapped)
	if !ok {
		t.Fatalf("expected wrapped abort to be recognized")
	}
	if ab.Status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", ab.Status)
	}

	if _, ok := From(fmt.Errorf("plain failure")); ok {
		t.Fatalf("plain error should not be an abort")
	}
}

func TestWithField(t *testing.T) {
	err := NotFound("item not found").WithField("identifier", int64(42))
	if err.Fields["identifier"] != int64(42) {
		t.Fatalf("expected identifier field, got %#v", err.Fields)
	}
}
