package alerts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/sirupsen/logrus"
)

// Event describes one aggregated status transition.
type Event struct {
	Event      string        `json:"event"`
	ServerID   string        `json:"server_id"`
	ServerName string        `json:"server_name"`
	From       models.Status `json:"from_status"`
	To         models.Status `json:"to_status"`
	Timestamp  string        `json:"timestamp"`
}

// Notifier delivers status-transition events to a webhook. With no URL
// configured it is a no-op, so callers never branch on alerting being
// enabled.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	log    *logrus.Entry
}

// NewNotifier creates a webhook notifier.
func NewNotifier(url, secret string, log *logrus.Entry) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// StatusChanged sends a status_change event. Delivery is best-effort:
// failures are logged and never propagate into the probe loop.
func (n *Notifier) StatusChanged(srv models.Server, from, to models.Status) {
	if n.url == "" {
		return
	}

	body, _ := json.Marshal(Event{
		Event:      "status_change",
		ServerID:   srv.ID,
		ServerName: srv.Name,
		From:       from,
		To:         to,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})

	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.WithError(err).Error("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "radar/1.0")

	// HMAC-SHA256 signature
	if n.secret != "" {
		mac := hmac.New(sha256.New, []byte(n.secret))
		mac.Write(body)
		req.Header.Set("X-Radar-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.WithError(err).WithField("server", srv.ID).Error("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	n.log.WithFields(logrus.Fields{
		"server": srv.ID,
		"status": resp.StatusCode,
		"to":     to,
	}).Info("webhook notification sent")
}
