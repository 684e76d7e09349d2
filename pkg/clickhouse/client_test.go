package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultClientConfig()
	cfg.Host = "ch.local"
	cfg.Database = "quant"
	cfg.Password = "p@ss:word"
	cfg.MaxExecTime = 30 * time.Second
	cfg.AsyncInsert = true
	cfg.WaitForAsync = true

	u, err := url.Parse(BuildDSN(cfg))
	if err != nil {
		t.Fatalf("dsn does not parse: %v", err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/quant" {
		t.Fatalf("unexpected dsn parts: %s", u.String())
	}
	if pw, _ := u.User.Password(); pw != "p@ss:word" {
		t.Fatalf("password not preserved: %q", pw)
	}
	q := u.Query()
	if q.Get("max_execution_time") != "30" || q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("dial_timeout") != "5s" {
		t.Fatalf("unexpected dial_timeout %q", q.Get("dial_timeout"))
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	cfg := defaultClientConfig()
	cfg.Host = "localhost"
	cfg.Port = 8123
	cfg.UseHTTP = true
	cfg.DialTimeout, cfg.ReadTimeout = 0, 0

	u, _ := url.Parse(BuildDSN(cfg))
	if u.Scheme != "http" || u.RawQuery != "" {
		t.Fatalf("unexpected http dsn: %s", u.String())
	}
}
