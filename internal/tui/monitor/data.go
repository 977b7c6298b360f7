package monitor

import (
	"time"

	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/syncer"
)

// FetchData reads the current sync state for display. Store read errors
// are surfaced on the message rather than aborting the refresh, so the
// monitor keeps running across transient database contention.
func FetchData(st *store.Store, mgr *syncer.Manager) RefreshDataMsg {
	msg := RefreshDataMsg{
		Status:    mgr.Status(),
		Timestamp: time.Now(),
	}

	pending, err := st.ListPending()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Pending = pending

	failed, err := st.ListFailed()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Failed = failed

	conflicts, err := st.ListConflicts()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Conflicts = conflicts

	return msg
}
