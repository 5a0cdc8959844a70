package validation

import (
	"errors"
	"testing"
)

type sample struct {
	Title    string `json:"title" validate:"required,min=3"`
	Type     string `json:"type" validate:"required,oneof=lost found"`
	ImageURL string `json:"imageUrl" validate:"omitempty,http_url"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

func TestStructValid(t *testing.T) {
	if err := Struct(sample{Title: "Bag", Type: "lost", ImageURL: "https://x.example.com/a.jpg"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestStructFieldErrors(t *testing.T) {
	err := Struct(sample{Title: "ab", Type: "stolen", ImageURL: "ftp://x", Email: "nope"})

	var rve *RequestValidationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RequestValidationError, got %v", err)
	}

	want := map[string]string{
		"title":    "title must be at least 3 characters",
		"type":     "type must be one of: lost found",
		"imageUrl": "imageUrl must be a valid http or https URL",
		"email":    "email must be a valid email address",
	}
	if len(rve.Fields) != len(want) {
		t.Fatalf("expected %d field errors, got %+v", len(want), rve.Fields)
	}
	for _, f := range rve.Fields {
		if want[f.Field] != f.Message {
			t.Errorf("field %q: got message %q, want %q", f.Field, f.Message, want[f.Field])
		}
	}
}

func TestStructRequired(t *testing.T) {
	err := Struct(sample{})
	var rve *RequestValidationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RequestValidationError, got %v", err)
	}
	if rve.Fields[0].Tag != "required" || rve.Fields[0].Message != "title is required" {
		t.Errorf("unexpected first error %+v", rve.Fields[0])
	}
	if rve.Error() == "" {
		t.Error("expected non-empty error string")
	}
}
