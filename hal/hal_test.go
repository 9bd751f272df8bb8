package hal

import "testing"

func TestPageFlagsHas(t *testing.T) {
	f := FlagPresent | FlagWritable
	if !f.Has(FlagPresent) {
		t.Fatalf("expected FlagPresent set")
	}
	if f.Has(FlagUser) {
		t.Fatalf("did not expect FlagUser set")
	}
	if !f.Has(FlagPresent | FlagWritable) {
		t.Fatalf("expected combined flags to match Has with same combination")
	}
}
