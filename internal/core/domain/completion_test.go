package domain

import (
	"errors"
	"testing"
)

func TestCompletionRecord_Apply(t *testing.T) {
	tests := []struct {
		name          string
		outcomes      []bool
		wantSucceed   bool
		wantTruncate  bool
		wantHostCount int
	}{
		{name: "all succeed", outcomes: []bool{true, true}, wantSucceed: true, wantTruncate: true, wantHostCount: 1},
		{name: "failure is sticky", outcomes: []bool{false, true, true}, wantSucceed: false, wantTruncate: false, wantHostCount: 0},
		{name: "late failure", outcomes: []bool{true, true, false}, wantSucceed: false, wantTruncate: false, wantHostCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &CompletionRecord{TxnID: 42, HostCount: 3, DidSucceed: true, IsTruncation: true}
			for _, ok := range tt.outcomes {
				rec.Apply(ok, nil)
			}
			if rec.DidSucceed != tt.wantSucceed {
				t.Errorf("DidSucceed = %v, want %v", rec.DidSucceed, tt.wantSucceed)
			}
			if rec.IsTruncation != tt.wantTruncate {
				t.Errorf("IsTruncation = %v, want %v", rec.IsTruncation, tt.wantTruncate)
			}
			if rec.HostCount != tt.wantHostCount {
				t.Errorf("HostCount = %d, want %d", rec.HostCount, tt.wantHostCount)
			}
			if rec.Done() != (tt.wantHostCount == 0) {
				t.Errorf("Done() = %v", rec.Done())
			}
		})
	}
}

func TestCompletionRecord_EncodeDecode(t *testing.T) {
	rec := &CompletionRecord{
		TxnID:      7,
		HostCount:  2,
		DidSucceed: true,
		Nonce:      "01J0000000000000000000000",
		Path:       "/var/snap",
	}
	rec.Apply(true, ExportSequenceNumbers{"orders": {1: {AckOffset: 5, SequenceNumber: 6}}})

	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}
	got, err := DecodeCompletionRecord(data)
	if err != nil {
		t.Fatalf("DecodeCompletionRecord() = %v", err)
	}
	if got.TxnID != 7 || got.HostCount != 1 || got.Path != "/var/snap" {
		t.Errorf("decoded = %+v", got)
	}
	if got.ExportSequenceNumbers["orders"][1].SequenceNumber != 6 {
		t.Errorf("sequence numbers lost: %v", got.ExportSequenceNumbers)
	}

	if _, err := DecodeCompletionRecord([]byte("{not json")); !errors.Is(err, ErrRecordCorrupt) {
		t.Errorf("corrupt decode err = %v, want ErrRecordCorrupt", err)
	}
}
