package config

import "testing"

func TestIsAdmin(t *testing.T) {
	t.Parallel()

	cfg := Config{AdminIDs: []int64{10, 20}}
	if !cfg.IsAdmin(10) || !cfg.IsAdmin(20) {
		t.Fatal("configured ids must pass")
	}
	if cfg.IsAdmin(30) {
		t.Fatal("unknown id must not pass")
	}
	if (Config{}).IsAdmin(10) {
		t.Fatal("empty admin list must reject everyone")
	}
}
