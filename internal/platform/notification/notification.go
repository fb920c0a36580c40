// Package notification renders templated emails and delivers them in the
// background. Callers never wait on, or fail because of, delivery.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	TplAppointmentBooked      = "appointment-booked"
	TplAppointmentRescheduled = "appointment-rescheduled"
	TplAppointmentCanceled    = "appointment-canceled"
	TplTherapistAssigned      = "therapist-assigned"
	TplWelcome                = "welcome"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a reusable subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplAppointmentBooked,
			Subject: "Session booked for {{date}}",
			Body:    "Hello {{name}}, a {{duration}}-minute session is booked for {{date}} at {{time}} UTC on {{platform}}. Join: {{link}}",
		},
		{
			ID:      TplAppointmentRescheduled,
			Subject: "Session moved to {{date}}",
			Body:    "Hello {{name}}, your session on {{old_date}} at {{old_time}} UTC was moved to {{date}} at {{time}} UTC. Join: {{link}}",
		},
		{
			ID:      TplAppointmentCanceled,
			Subject: "Session on {{date}} canceled",
			Body:    "Hello {{name}}, the session on {{date}} at {{time}} UTC was canceled. Reason: {{reason}}",
		},
		{
			ID:      TplTherapistAssigned,
			Subject: "New patient assigned",
			Body:    "Hello {{name}}, you were selected as therapist for a new {{issue}} panel.",
		},
		{
			ID:      TplWelcome,
			Subject: "Welcome to TherapyConnect",
			Body:    "Hello {{name}}, your {{role}} account is ready.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Message is one queued email.
type Message struct {
	TemplateID string
	To         string
	Data       map[string]string
}

var ErrQueueFull = errors.New("notification queue full")

// Dispatcher renders and sends messages on background workers. Notify never
// blocks; when the queue is full the message is dropped and logged.
type Dispatcher struct {
	sender  EmailSender
	tpl     *TemplateEngine
	logger  zerolog.Logger
	timeout time.Duration
	queue   chan Message
	wg      sync.WaitGroup
	once    sync.Once
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// SendTimeout bounds each delivery attempt. Failed sends are not retried.
	SendTimeout time.Duration
}

func NewDispatcher(sender EmailSender, tpl *TemplateEngine, logger zerolog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		sender:  sender,
		tpl:     tpl,
		logger:  logger.With().Str("component", "notification").Logger(),
		timeout: cfg.SendTimeout,
		queue:   make(chan Message, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Notify enqueues a message for delivery. Empty recipients are ignored.
func (d *Dispatcher) Notify(templateID, to string, data map[string]string) {
	if to == "" {
		return
	}
	if err := d.enqueue(Message{TemplateID: templateID, To: to, Data: data}); err != nil {
		d.logger.Warn().Err(err).Str("template", templateID).Msg("notification dropped")
	}
}

func (d *Dispatcher) enqueue(m Message) (err error) {
	defer func() {
		// Notify after Close.
		if recover() != nil {
			err = errors.New("dispatcher closed")
		}
	}()
	select {
	case d.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for m := range d.queue {
		d.deliver(m)
	}
}

func (d *Dispatcher) deliver(m Message) {
	subject, body, err := d.tpl.Render(m.TemplateID, m.Data)
	if err != nil {
		d.logger.Error().Err(err).Str("template", m.TemplateID).Msg("render notification")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.SendEmail(ctx, m.To, subject, body); err != nil {
		d.logger.Error().Err(err).Str("template", m.TemplateID).Msg("send notification")
		return
	}
	d.logger.Debug().Str("template", m.TemplateID).Msg("notification sent")
}

// Close stops accepting messages and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
