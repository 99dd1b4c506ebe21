package rfc9211

import "testing"

func TestCacheStatusString(t *testing.T) {
	cases := []struct {
		build func(cs *CacheStatus)
		want  string
	}{
		{func(cs *CacheStatus) { cs.Hit() }, "AlwaysOffline; hit"},
		{func(cs *CacheStatus) { cs.Forward(FwdReasonUriMiss); cs.Stored = true }, "AlwaysOffline; fwd=uri-miss; stored"},
		{func(cs *CacheStatus) { cs.Forward("") }, "AlwaysOffline; fwd=miss"},
		{func(cs *CacheStatus) { cs.Hit(); cs.Detail = "offline-fallback" }, "AlwaysOffline; hit; detail=offline-fallback"},
		{func(cs *CacheStatus) {}, "AlwaysOffline"},
	}
	for _, c := range cases {
		cs := CacheStatus{}
		c.build(&cs)
		if got := cs.String(); got != c.want {
			t.Fatalf("Cache-Status is %q, expected %q", got, c.want)
		}
	}
}
