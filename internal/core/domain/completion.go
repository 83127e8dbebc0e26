package domain

import (
	"encoding/json"
	"fmt"
)

// CompletionRecord is the cluster-wide record of one snapshot transaction.
//
// The initiator creates it with HostCount set to the number of participating
// hosts; each host applies its outcome exactly once when it finishes.
type CompletionRecord struct {
	TxnID        int64  `json:"txnId"`
	HostCount    int    `json:"hostCount"`
	DidSucceed   bool   `json:"didSucceed"`
	IsTruncation bool   `json:"isTruncation"`
	Nonce        string `json:"nonce,omitempty"`
	Path         string `json:"path,omitempty"`

	ExportSequenceNumbers ExportSequenceNumbers `json:"exportSequenceNumbers"`
}

// Apply folds one host's outcome into the record: the remaining host count is
// decremented, failure is sticky and also clears the truncation marker, and
// the host's export progress is merged by maximum.
func (r *CompletionRecord) Apply(succeeded bool, progress ExportSequenceNumbers) []ProgressDisagreement {
	r.HostCount--
	if !succeeded {
		r.DidSucceed = false
		r.IsTruncation = false
	}
	if r.ExportSequenceNumbers == nil {
		r.ExportSequenceNumbers = make(ExportSequenceNumbers)
	}
	return r.ExportSequenceNumbers.Merge(progress)
}

// Done reports whether every host has applied its outcome.
func (r *CompletionRecord) Done() bool {
	return r.HostCount <= 0
}

// Encode serializes the record as JSON.
func (r *CompletionRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeCompletionRecord parses a JSON completion record.
func DecodeCompletionRecord(data []byte) (*CompletionRecord, error) {
	var r CompletionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, ErrRecordCorrupt.WithCause(err).WithDetails(fmt.Sprintf("%d bytes", len(data)))
	}
	return &r, nil
}
