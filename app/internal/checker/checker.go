package checker

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/models"
	probing "github.com/prometheus-community/pro-bing"
)

// Result is the outcome of one probe, expressed in the status vocabulary
// the ingestion gateway accepts.
type Result struct {
	Status       models.Status
	ResponseMS   *int
	ErrorMessage string
}

// Check probes a server according to its check type. Client-side
// timeouts map to status timeout; any other probe failure maps to
// error. The distinction keeps "target slow or unreachable" separate
// from "probe could not run".
func Check(srv models.Server, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch srv.CheckType {
	case "tcp":
		return tcpCheck(srv.Address, timeout)
	case "ping":
		return pingCheck(srv.Address, timeout)
	default:
		return httpCheck(srv.Address, timeout)
	}
}

func httpCheck(url string, timeout time.Duration) Result {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	client := &http.Client{Timeout: timeout}
	t0 := time.Now()
	resp, err := client.Get(url)
	ms := elapsedMS(t0)
	if err != nil {
		return failure(err, ms)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 399 {
		return Result{Status: models.StatusUp, ResponseMS: ms}
	}
	return Result{
		Status:       models.StatusDown,
		ResponseMS:   ms,
		ErrorMessage: "unexpected status " + resp.Status,
	}
}

func tcpCheck(addr string, timeout time.Duration) Result {
	addr = strings.TrimPrefix(addr, "tcp://")
	t0 := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	ms := elapsedMS(t0)
	if err != nil {
		return failure(err, ms)
	}
	_ = conn.Close()
	return Result{Status: models.StatusUp, ResponseMS: ms}
}

func pingCheck(host string, timeout time.Duration) Result {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return Result{Status: models.StatusError, ErrorMessage: err.Error()}
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	// Unprivileged UDP ping works without CAP_NET_RAW.
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return Result{Status: models.StatusError, ErrorMessage: err.Error()}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return Result{Status: models.StatusTimeout, ErrorMessage: "no ping reply within " + timeout.String()}
	}
	ms := int(stats.AvgRtt.Milliseconds())
	return Result{Status: models.StatusUp, ResponseMS: &ms}
}

func failure(err error, ms *int) Result {
	if isTimeout(err) {
		return Result{Status: models.StatusTimeout, ResponseMS: ms, ErrorMessage: err.Error()}
	}
	return Result{Status: models.StatusError, ResponseMS: ms, ErrorMessage: err.Error()}
}

func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	// http.Client wraps the net error in a *url.Error; string match
	// covers context deadline shapes that don't implement net.Error.
	return strings.Contains(err.Error(), "Client.Timeout exceeded") ||
		strings.Contains(err.Error(), "context deadline exceeded")
}

func elapsedMS(t0 time.Time) *int {
	d := int(time.Since(t0).Milliseconds())
	return &d
}
