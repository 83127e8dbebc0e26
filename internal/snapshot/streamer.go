package snapshot

import (
	"fmt"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/internal/storage/bufpool"
	"github.com/yndnr/snapstream/internal/telemetry/metric"
)

// streamer adapts a site's row source to buffers and targets.
type streamer struct {
	rows    domain.RowSource
	metrics *metric.Registry
}

func (st *streamer) activate(tableID int32, tasks []domain.TableTask) bool {
	preds := make([]domain.Predicate, len(tasks))
	for i, t := range tasks {
		preds[i] = domain.Predicate{Expr: t.Predicate, DeleteTuples: t.DeleteTuples}
	}
	return st.rows.Activate(tableID, preds)
}

// streamMore fills one buffer per task and writes each non-empty buffer to
// its task's target. more reports whether the table still has rows.
func (st *streamer) streamMore(tableID int32, tasks []domain.TableTask, bufs []*bufpool.Buffer) (*domain.Future, bool, error) {
	spaces := make([][]byte, len(bufs))
	for i, b := range bufs {
		spaces[i] = b.Space()
	}

	filled, more, err := st.rows.Fill(tableID, spaces)
	if err != nil {
		return nil, false, domain.ErrRowSource.WithCause(err).WithDetails(fmt.Sprintf("table %d", tableID))
	}
	if len(filled) != len(bufs) {
		return nil, false, domain.ErrRowSource.WithDetails(fmt.Sprintf("table %d: filled %d of %d buffers", tableID, len(filled), len(bufs)))
	}

	futures := make([]*domain.Future, 0, len(bufs))
	for i, n := range filled {
		if n == 0 {
			continue
		}
		bufs[i].SetLen(n)
		st.metrics.Streamed(n)
		futures = append(futures, tasks[i].Target.Write(tableID, bufs[i].Bytes()))
	}
	return domain.AllOf(futures...), more, nil
}
