package api

import "testing"

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	for i := 0; i < 2; i++ {
		ok, _ := rl.allow("10.0.0.1")
		if !ok {
			t.Fatalf("request %d inside burst denied", i)
		}
	}
	ok, retry := rl.allow("10.0.0.1")
	if ok {
		t.Fatal("request over burst allowed")
	}
	if retry <= 0 {
		t.Errorf("retryAfter = %v, want positive", retry)
	}
}

func TestAdminLimitsFromConfig(t *testing.T) {
	var cfg RouterConfig
	if rate, burst := cfg.adminLimits(); rate != 60 || burst != 10 {
		t.Errorf("zero config limits = (%d, %d), want defaults (60, 10)", rate, burst)
	}

	cfg = RouterConfig{AdminRatePerMin: 120, AdminRateBurst: 5}
	if rate, burst := cfg.adminLimits(); rate != 120 || burst != 5 {
		t.Errorf("explicit config limits = (%d, %d), want (120, 5)", rate, burst)
	}
}

func TestRateLimiterIsolatesIPs(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("first IP denied its burst")
	}
	if ok, _ := rl.allow("10.0.0.1"); ok {
		t.Fatal("first IP allowed over burst")
	}
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Error("second IP throttled by the first IP's bucket")
	}
}
