package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/domain"
)

const (
	defaultTimeout = 5 * time.Second
	maxBackoff     = time.Second
	minBackoff     = 50 * time.Millisecond
)

// Notifier POSTs QuizCompleted events to a completion tracking endpoint.
type Notifier struct {
	url    string
	client *req.Client
	log    *logrus.Entry
}

func NewNotifier(url string, timeout time.Duration, retries int) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log := logrus.WithField("component", "webhook")
	client := req.C().
		SetTimeout(timeout).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal).
		SetCommonRetryCount(retries).
		SetCommonRetryBackoffInterval(minBackoff, maxBackoff).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil || resp.GetStatusCode() >= http.StatusInternalServerError
		}).
		SetCommonRetryHook(func(resp *req.Response, err error) {
			if err != nil {
				log.WithError(err).Warn("quiz completed delivery failed, retrying")
				return
			}
			log.WithField("status", resp.GetStatusCode()).Warn("quiz completed rejected, retrying")
		})
	return &Notifier{url: url, client: client, log: log}
}

func (n *Notifier) Notify(ctx context.Context, event domain.QuizCompleted) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", event.AttemptID).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return errors.Wrapf(err, "post quiz completed for attempt %s", event.AttemptID)
	}
	if resp.IsErrorState() {
		return errors.Errorf("post quiz completed for attempt %s: status %d", event.AttemptID, resp.GetStatusCode())
	}
	return nil
}
