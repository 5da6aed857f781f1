package ksrerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	inner := New(SigningFailed, "hsm timed out")
	wrapped := fmt.Errorf("ceremony: signing bundle 3: %w", inner)

	kind, ok := KindOf(wrapped)
	if !ok || kind != SigningFailed {
		t.Fatalf("KindOf = (%v, %v), want (SigningFailed, true)", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("KindOf should not match a plain error")
	}
}

func TestExitCodeContract(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{Violations{{Check: "NumBundles"}}.AsCeremonyError(), 1},
		{New(ChainLinkageFailed, "chain break"), 1},
		{New(MalformedXml, "bad xml"), 2},
		{errors.New("not a ceremony error"), 2},
		{New(HsmUnavailable, "no device"), 3},
		{Wrap(SigningFailed, errors.New("timeout"), "bundle 3"), 3},
		{New(InventoryMismatch, "key tag drift"), 4},
		{New(ConfigurationError, "unknown schema"), 4},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestViolationsCollectAndReport(t *testing.T) {
	vs := Violations{
		{Check: "NumBundles", Msg: "got 2, want 9"},
		{Check: "CheckBundleOverlap", BundleID: "3", Msg: "no overlap"},
	}
	msg := vs.Error()
	for _, want := range []string{"NumBundles", "CheckBundleOverlap", "bundle=3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Violations.Error() missing %q: %s", want, msg)
		}
	}

	ce := vs.AsCeremonyError()
	if ce.Kind != PolicyViolation || ce.Check != "NumBundles" {
		t.Fatalf("AsCeremonyError = %+v, want PolicyViolation/NumBundles", ce)
	}
}
