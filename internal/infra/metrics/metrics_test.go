package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	IncDownload(DownloadOK)
	ObserveNetworkRequest("slack", "conversations.history", "", time.Now(), errors.New("boom"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("no metric families gathered")
	}
}

func TestDownloadCounters(t *testing.T) {
	before := testutil.ToFloat64(DownloadsTotal.WithLabelValues(DownloadFailed))
	IncDownload(DownloadFailed)
	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues(DownloadFailed)); got != before+1 {
		t.Fatalf("failed counter = %v, want %v", got, before+1)
	}

	SetQueueDepth(7)
	if got := testutil.ToFloat64(DownloadQueueDepth); got != 7 {
		t.Fatalf("queue depth = %v", got)
	}

	bytesBefore := testutil.ToFloat64(DownloadBytes)
	AddDownloadBytes(-1)
	AddDownloadBytes(10)
	if got := testutil.ToFloat64(DownloadBytes); got != bytesBefore+10 {
		t.Fatalf("bytes = %v, want %v", got, bytesBefore+10)
	}
}
