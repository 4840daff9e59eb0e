package block

import (
	"errors"
	"fmt"
	"testing"
)

func hashOf(n uint64) string {
	return fmt.Sprintf("0x%064x", n)
}

func validRecord(n uint64) Record {
	return Record{
		Number:     n,
		Hash:       hashOf(n),
		ParentHash: hashOf(n - 1),
		Timestamp:  1_000_000 + n,
		TxCount:    3,
	}
}

func TestValidatePassesWithoutExpectedParent(t *testing.T) {
	out := Validate(validRecord(98), "")
	if !out.OK() {
		t.Fatalf("expected pass, got %s", out.Kind)
	}
	if out.Err() != nil {
		t.Fatalf("pass must not yield an error: %v", out.Err())
	}
}

func TestValidatePassesWhenChained(t *testing.T) {
	out := Validate(validRecord(98), hashOf(97))
	if !out.OK() {
		t.Fatalf("expected pass, got %v", out.Err())
	}
}

func TestValidateParentCompareIgnoresHexCase(t *testing.T) {
	rec := validRecord(11)
	rec.ParentHash = "0x" + fmt.Sprintf("%064X", 10)
	if out := Validate(rec, hashOf(10)); !out.OK() {
		t.Fatalf("hex case should not matter: %v", out.Err())
	}
}

func TestValidateCorruptedFields(t *testing.T) {
	cases := map[string]func(*Record){
		"number":     func(r *Record) { r.Number = 0 },
		"hash":       func(r *Record) { r.Hash = "" },
		"timestamp":  func(r *Record) { r.Timestamp = 0 },
		"parentHash": func(r *Record) { r.ParentHash = "" },
	}

	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			rec := validRecord(50)
			mutate(&rec)

			out := Validate(rec, hashOf(49))
			if out.Kind != KindCorruptedData {
				t.Fatalf("expected corrupted data, got %s", out.Kind)
			}
			if out.Field != field {
				t.Fatalf("expected field %q, got %q", field, out.Field)
			}
			if !errors.Is(out.Err(), ErrCorruptedData) {
				t.Fatalf("error should unwrap to ErrCorruptedData: %v", out.Err())
			}
		})
	}
}

func TestValidateInconsistentHash(t *testing.T) {
	rec := validRecord(100)
	rec.ParentHash = hashOf(12345)

	out := Validate(rec, hashOf(99))
	if out.Kind != KindInconsistentHash {
		t.Fatalf("expected inconsistent hash, got %s", out.Kind)
	}

	err := out.Err()
	if !errors.Is(err, ErrInconsistentHash) {
		t.Fatalf("error should unwrap to ErrInconsistentHash: %v", err)
	}
	if !IsChainFailure(err) {
		t.Fatal("inconsistent hash is a chain failure")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Number != 100 || verr.Expected != hashOf(99) {
		t.Fatalf("unexpected validation error detail: %#v", verr)
	}
}

func TestCorruptionCheckedBeforeChain(t *testing.T) {
	rec := validRecord(7)
	rec.Hash = ""
	rec.ParentHash = hashOf(1)

	if out := Validate(rec, hashOf(6)); out.Kind != KindCorruptedData {
		t.Fatalf("missing fields take precedence, got %s", out.Kind)
	}
}

func TestIsChainFailureRejectsOtherErrors(t *testing.T) {
	if IsChainFailure(errors.New("dial tcp: connection refused")) {
		t.Fatal("transport errors are not chain failures")
	}
	if IsChainFailure(fmt.Errorf("fetch block 5: %w", Validate(Record{}, "").Err())) == false {
		t.Fatal("wrapped validation errors are chain failures")
	}
}
