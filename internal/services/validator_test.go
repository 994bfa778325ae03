package services

import (
	"errors"
	"testing"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidate_SubmitApplication_Valid(t *testing.T) {
	v := newTestValidator(t)

	body := []byte(`{"job_id":"5f0c3c1e-8f43-4a36-9d2c-0b8f6b8e2a11","cover_letter_text":"I have shipped three Go services.","proposed_rate":4500}`)
	if err := v.Validate(SchemaSubmitApplication, body); err != nil {
		t.Fatalf("expected valid submit body, got: %v", err)
	}
}

func TestValidate_SubmitApplication_Invalid(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name string
		body string
	}{
		{name: "missing job_id", body: `{"cover_letter_text":"hi","proposed_rate":10}`},
		{name: "job_id not a uuid", body: `{"job_id":"job-1","cover_letter_text":"hi","proposed_rate":10}`},
		{name: "zero rate", body: `{"job_id":"5f0c3c1e-8f43-4a36-9d2c-0b8f6b8e2a11","cover_letter_text":"hi","proposed_rate":0}`},
		{name: "fractional rate", body: `{"job_id":"5f0c3c1e-8f43-4a36-9d2c-0b8f6b8e2a11","cover_letter_text":"hi","proposed_rate":1.5}`},
		{name: "unknown field", body: `{"job_id":"5f0c3c1e-8f43-4a36-9d2c-0b8f6b8e2a11","cover_letter_text":"hi","proposed_rate":10,"fee":0}`},
		{name: "not JSON", body: `job_id=1`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(SchemaSubmitApplication, []byte(tc.body))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidate_PreviewAllowsEmptyText(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(SchemaPreviewApplication, []byte(`{"cover_letter_text":""}`)); err != nil {
		t.Fatalf("expected empty preview text to be valid, got: %v", err)
	}
}

func TestValidate_CreditBalance(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(SchemaCreditBalance, []byte(`{"amount":30}`)); err != nil {
		t.Fatalf("expected valid credit body, got: %v", err)
	}
	if err := v.Validate(SchemaCreditBalance, []byte(`{"amount":-3}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative amount, got: %v", err)
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	v := newTestValidator(t)

	err := v.Validate("nope", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown schema")
	}
	if errors.Is(err, ErrValidation) {
		t.Errorf("unknown schema should not be reported as a validation failure: %v", err)
	}
}

func TestNewValidator_LoadsAllSchemas(t *testing.T) {
	v := newTestValidator(t)

	for _, name := range []string{SchemaSubmitApplication, SchemaPreviewApplication, SchemaCreditBalance, SchemaCreateJob} {
		if _, ok := v.schemas[name]; !ok {
			t.Errorf("missing schema %q", name)
		}
	}
}
