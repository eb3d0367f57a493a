package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(LensCacheHits.WithLabelValues("metrics-test", OriginLocal))
	LensCacheHits.WithLabelValues("metrics-test", OriginLocal).Inc()
	after := testutil.ToFloat64(LensCacheHits.WithLabelValues("metrics-test", OriginLocal))
	if after != before+1 {
		t.Fatalf("hits = %v, want %v", after, before+1)
	}
}

func TestWriteTextfile(t *testing.T) {
	CachePushes.WithLabelValues("textfile-test").Inc()
	path := filepath.Join(t.TempDir(), "holo.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `holo_cache_push_total{remote="textfile-test"} 1`) {
		t.Fatalf("textfile missing counter:\n%s", data)
	}
}
