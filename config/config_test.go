package config

import "testing"

func TestPostgresDSNFromFields(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "sim", Password: "pw", DBName: "deadnet"}
	want := "postgres://sim:pw@db:5432/deadnet?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q; want %q", got, want)
	}
}

func TestPostgresDSNPrefersURL(t *testing.T) {
	p := PostgresConfig{URL: "postgres://x@y/z", Host: "ignored"}
	if got := p.DSN(); got != "postgres://x@y/z" {
		t.Fatalf("DSN = %q; want the url", got)
	}
}

func TestPostgresValidateRequiresHostOrURL(t *testing.T) {
	if err := (PostgresConfig{}).Validate(); err == nil {
		t.Fatalf("empty postgres config must fail validation")
	}
	if err := (PostgresConfig{URL: "postgres://x@y/z"}).Validate(); err != nil {
		t.Fatalf("url-only config must validate: %v", err)
	}
	if err := (PostgresConfig{Host: "db"}).Validate(); err == nil {
		t.Fatalf("host without dbname must fail validation")
	}
}

func TestSimulationValidate(t *testing.T) {
	good := SimulationConfig{FeedSampleSize: 10, VotePool: "full"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	good.VotePool = "sample"
	if err := good.Validate(); err != nil {
		t.Fatalf("sample pool rejected: %v", err)
	}

	bad := good
	bad.VotePool = "everything"
	if err := bad.Validate(); err == nil {
		t.Fatalf("unknown vote_pool must fail")
	}
	bad = good
	bad.FeedSampleSize = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("zero sample size must fail")
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: "6379"}
	if got := r.Addr(); got != "cache:6379" {
		t.Fatalf("Addr = %q", got)
	}
}
