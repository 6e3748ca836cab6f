package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"usvchain/core/events"
	"usvchain/crypto"
	"usvchain/observability"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	EventCodesGenerated  EventType = events.TypeRewardsCodesGenerated
	EventCodeClaimed     EventType = events.TypeRewardsCodeClaimed
	EventPartnerTransfer EventType = events.TypeRewardsPartnerTransfer

	SignatureHeader = "X-USV-Signature"
	EventHeader     = "X-USV-Event"
	DeliveryHeader  = "X-USV-Delivery"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

var ErrQueueFull = errors.New("webhook: queue full")

// CodesGeneratedPayload announces a new batch to the printing partner.
type CodesGeneratedPayload struct {
	Type       EventType `json:"type"`
	DeliveryID string    `json:"deliveryId"`
	Batch      string    `json:"batch"`
	Sequence   uint64    `json:"sequence"`
	Count      uint32    `json:"count"`
	PartnerID  string    `json:"partnerId,omitempty"`
	BatchInfo  string    `json:"batchInfo,omitempty"`
	Hashes     []string  `json:"hashes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CodeClaimedPayload reports a redemption. The email is masked.
type CodeClaimedPayload struct {
	Type          EventType `json:"type"`
	DeliveryID    string    `json:"deliveryId"`
	QRHash        string    `json:"qrHash"`
	Claimer       string    `json:"claimer"`
	UserEmail     string    `json:"userEmail"`
	Amount        string    `json:"amount"`
	TokensClaimed string    `json:"tokensClaimed"`
	ClaimedAt     time.Time `json:"claimedAt"`
}

type PartnerTransferPayload struct {
	Type        EventType `json:"type"`
	DeliveryID  string    `json:"deliveryId"`
	Partner     string    `json:"partner"`
	Amount      string    `json:"amount"`
	PartnerInfo string    `json:"partnerInfo,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	queueSize   int
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	id        string
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		queueSize:   defaultQueueSize,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.queue = make(chan delivery, dispatcher.queueSize)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Emit implements events.Emitter. Events without a webhook topic are ignored
// and a full queue drops the delivery instead of stalling the ledger.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil {
		return
	}
	var (
		payload   interface{}
		eventType EventType
		id        = uuid.NewString()
	)
	switch e := evt.(type) {
	case events.RewardsCodesGenerated:
		eventType = EventCodesGenerated
		payload = CodesGeneratedPayload{
			Type:       eventType,
			DeliveryID: id,
			Batch:      crypto.FormatAccount(e.Batch),
			Sequence:   e.Sequence,
			Count:      e.Count,
			PartnerID:  e.PartnerID,
			BatchInfo:  e.BatchInfo,
			Hashes:     append([]string(nil), e.Hashes...),
			CreatedAt:  time.Unix(e.CreatedAt, 0).UTC(),
		}
	case events.RewardsCodeClaimed:
		eventType = EventCodeClaimed
		payload = CodeClaimedPayload{
			Type:          eventType,
			DeliveryID:    id,
			QRHash:        e.QRHash,
			Claimer:       crypto.FormatAddress(e.Claimer),
			UserEmail:     events.MaskEmail(e.UserEmail),
			Amount:        decimal(e.Amount),
			TokensClaimed: decimal(e.TokensClaimed),
			ClaimedAt:     time.Unix(e.ClaimedAt, 0).UTC(),
		}
	case events.RewardsPartnerTransfer:
		eventType = EventPartnerTransfer
		payload = PartnerTransferPayload{
			Type:        eventType,
			DeliveryID:  id,
			Partner:     crypto.FormatAddress(e.Partner),
			Amount:      decimal(e.Amount),
			PartnerInfo: e.PartnerInfo,
			SentAt:      d.now().UTC(),
		}
	default:
		return
	}
	if err := d.enqueue(id, eventType, payload); err != nil {
		observability.Webhooks().RecordDrop()
		d.logger.Warn("webhook: delivery dropped",
			slog.String("event", string(eventType)),
			slog.String("delivery_id", id),
			slog.Any("error", err))
	}
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func (d *Dispatcher) enqueue(id string, eventType EventType, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	default:
	}
	select {
	case d.queue <- delivery{id: id, eventType: eventType, body: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		start := time.Now()
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		observability.Webhooks().ObserveDelivery(string(job.eventType), err, time.Since(start))
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook: delivery abandoned",
				slog.String("event", string(job.eventType)),
				slog.String("delivery_id", job.id),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(job.eventType))
	req.Header.Set(DeliveryHeader, job.id)
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(header)))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
