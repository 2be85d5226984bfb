package docsync

// Classify computes the sync status of a document from its counters. Rules
// are evaluated in priority order and the first match wins. Negative
// counters are treated as zero.
func Classify(c Counters, syncTime int64, ignore bool) Status {
	st, _ := classify(c, syncTime, ignore)
	return st
}

// ClassifyServer is the endpoint-side variant of Classify. A counter that
// moved backwards (a page deleted and re-created on one side) yields
// StatusConflict rather than StatusUnknown so the operator resolves it.
func ClassifyServer(c Counters, syncTime int64, ignore bool) Status {
	st, regressed := classify(c, syncTime, ignore)
	if regressed {
		return StatusConflict
	}

	return st
}

func classify(c Counters, syncTime int64, ignore bool) (Status, bool) {
	if ignore {
		return StatusIgnored, false
	}

	if syncTime == 0 {
		return StatusUnknown, false
	}

	rv, lv := nonNegative(c.Remote), nonNegative(c.Local)
	srv, slv := nonNegative(c.SyncRemote), nonNegative(c.SyncLocal)

	switch {
	case rv > 0 && lv == 0:
		return StatusMissing, false
	case lv > 0 && rv == 0:
		return StatusNew, false
	case rv > srv && lv > slv:
		return StatusConflict, false
	case rv > srv:
		return StatusOutdated, false
	case lv > slv:
		return StatusModified, false
	case rv == srv && lv == slv:
		return StatusSynced, false
	}

	// Only reachable when a sync counter is ahead of its current counter.
	return StatusUnknown, true
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}

	return v
}
