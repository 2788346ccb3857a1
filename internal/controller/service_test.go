package controller

import (
	"errors"
	"testing"

	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
)

func TestRequireDomain(t *testing.T) {
	s := &Service{}

	got, err := s.requireDomain("  Video.Example.COM ")
	if err != nil {
		t.Fatalf("requireDomain() = %v; want nil", err)
	}
	if got != "video.example.com" {
		t.Fatalf("requireDomain() = %q; want normalized lowercase", got)
	}

	if _, err := s.requireDomain("   "); err == nil {
		t.Fatal("requireDomain() blank = nil; want validation error")
	} else {
		var coded *cdpcontrol.CodedError
		if !errors.As(err, &coded) || coded.Code != cdpcontrol.CodeValidation {
			t.Fatalf("requireDomain() blank = %v; want %s", err, cdpcontrol.CodeValidation)
		}
	}
}
