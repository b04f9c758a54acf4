package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: bad token", ErrUnauthenticated), http.StatusUnauthorized},
		{fmt.Errorf("%w: room", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: channel name taken", ErrConflict), http.StatusConflict},
		{FieldErrors{{Field: "name", Msg: "is required"}}, http.StatusBadRequest},
		{fmt.Errorf("%w: mail", ErrUpstream), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := Status(c.err); got != c.want {
			t.Fatalf("Status(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestFieldErrors(t *testing.T) {
	var fe FieldErrors
	fe.Require("orgId", "")
	fe.Require("msg", "hello")
	err := fe.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("FieldErrors should unwrap to ErrInvalidInput")
	}
	if len(fe) != 1 || fe[0].Field != "orgId" {
		t.Fatalf("unexpected field errors: %+v", fe)
	}
	if (FieldErrors{}).Err() != nil {
		t.Fatal("empty FieldErrors should be nil")
	}
	if Message(errors.New("secret db detail")) != "internal error" {
		t.Fatal("internal errors must not leak")
	}
}
