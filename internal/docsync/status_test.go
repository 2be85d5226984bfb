package docsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		c        Counters
		syncTime int64
		ignore   bool
		want     Status
	}{
		{"ignored wins over everything", Counters{Remote: 5, Local: 4, SyncRemote: 3, SyncLocal: 2}, 100, true, StatusIgnored},
		{"ignored with zero sync time", Counters{}, 0, true, StatusIgnored},
		{"never synced", Counters{Remote: 1, Local: 1}, 0, false, StatusUnknown},
		{"missing local copy", Counters{Remote: 3, SyncRemote: 3}, 100, false, StatusMissing},
		{"new local page", Counters{Local: 2}, 100, false, StatusNew},
		{"both sides changed", Counters{Remote: 5, Local: 4, SyncRemote: 3, SyncLocal: 2}, 100, false, StatusConflict},
		{"remote changed", Counters{Remote: 5, Local: 2, SyncRemote: 3, SyncLocal: 2}, 100, false, StatusOutdated},
		{"local changed", Counters{Remote: 3, Local: 4, SyncRemote: 3, SyncLocal: 2}, 100, false, StatusModified},
		{"in sync", Counters{Remote: 3, Local: 2, SyncRemote: 3, SyncLocal: 2}, 100, false, StatusSynced},
		{"both zero in sync", Counters{}, 100, false, StatusSynced},
		{"regressed remote", Counters{Remote: 1, Local: 2, SyncRemote: 3, SyncLocal: 2}, 100, false, StatusUnknown},
		{"negative counters clamp", Counters{Remote: -1, Local: 2}, 100, false, StatusNew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.c, tt.syncTime, tt.ignore))
		})
	}
}

func TestClassify_AlwaysValid(t *testing.T) {
	values := []int64{-1, 0, 1, 2, 3}
	for _, srv := range values {
		for _, slv := range values {
			for _, rv := range values {
				for _, lv := range values {
					c := Counters{SyncRemote: srv, SyncLocal: slv, Remote: rv, Local: lv}
					for _, ts := range []int64{0, 1} {
						for _, ignore := range []bool{false, true} {
							st := Classify(c, ts, ignore)
							assert.True(t, st.Valid(), "invalid status %q for %+v", st, c)

							if ignore {
								assert.Equal(t, StatusIgnored, st)
							}
						}
					}
				}
			}
		}
	}
}

func TestClassifyServer_RegressionIsConflict(t *testing.T) {
	c := Counters{Remote: 1, Local: 2, SyncRemote: 3, SyncLocal: 2}
	assert.Equal(t, StatusConflict, ClassifyServer(c, 100, false))

	c = Counters{Remote: 3, Local: 1, SyncRemote: 3, SyncLocal: 2}
	assert.Equal(t, StatusConflict, ClassifyServer(c, 100, false))
}

func TestClassifyServer_MatchesClassifyOtherwise(t *testing.T) {
	c := Counters{Remote: 5, Local: 2, SyncRemote: 3, SyncLocal: 2}
	assert.Equal(t, Classify(c, 100, false), ClassifyServer(c, 100, false))
	assert.Equal(t, StatusIgnored, ClassifyServer(c, 100, true))
	assert.Equal(t, StatusUnknown, ClassifyServer(c, 0, false))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Conflict ")
	assert.NoError(t, err)
	assert.Equal(t, StatusConflict, st)

	_, err = ParseStatus("stale")
	assert.Error(t, err)
}

func TestParseResolution_Aliases(t *testing.T) {
	tests := map[string]Resolution{
		"":            ResolveDefer,
		"skip":        ResolveDefer,
		"outdated":    ResolveTakeRemote,
		"remote":      ResolveTakeRemote,
		"modified":    ResolveTakeLocal,
		"take-local":  ResolveTakeLocal,
		"take-remote": ResolveTakeRemote,
	}
	for in, want := range tests {
		got, err := ParseResolution(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseResolution("merge")
	assert.Error(t, err)
}
