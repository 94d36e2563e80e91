package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := Persistence("resolve link", errors.New("missing"))
	wrapped := fmt.Errorf("load: %w", base)

	if got := KindOf(wrapped); got != KindPersistence {
		t.Fatalf("KindOf = %v, want %v", got, KindPersistence)
	}
	if IsFatal(wrapped) {
		t.Fatalf("persistence failures must not be fatal")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should be unknown")
	}
}

func TestOnlyInitializationIsFatal(t *testing.T) {
	kinds := []Kind{KindStageExecution, KindValidation, KindPersistence, KindProtocol}
	for _, k := range kinds {
		if New(k, "op", nil).Fatal() {
			t.Fatalf("%v should not be fatal", k)
		}
	}
	if !Initialization("init", errors.New("boom")).Fatal() {
		t.Fatalf("initialization failure should be fatal")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Newf(KindValidation, "preflight", "column %q missing", "batch")
	if got, want := err.Error(), `preflight: column "batch" missing`; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
