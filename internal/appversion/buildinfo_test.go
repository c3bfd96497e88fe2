package appversion_test

import (
	"strings"
	"testing"

	"uibridge/internal/appversion"
)

func TestVersionIsSet(t *testing.T) {
	t.Parallel()

	v := appversion.String()
	if v == "" {
		t.Fatal("appversion.String() must not be empty")
	}
	if !strings.HasPrefix(v, "dev") {
		t.Fatalf("unstamped build reports %q, want dev prefix", v)
	}
}
